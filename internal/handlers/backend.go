package handlers

import (
	"errors"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/dualkv/internal/backend"
	"github.com/neogan74/dualkv/internal/engine"
	"github.com/neogan74/dualkv/internal/logger"
	"github.com/neogan74/dualkv/internal/middleware"
	"github.com/neogan74/dualkv/internal/object"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the part of the backend the HTTP surface uses.
type Store interface {
	APIVersion() (int, []backend.Capability)
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key []byte, specs []engine.IndexSpec, value []byte) error
	Delete(bucket, key []byte) error
	FoldKeys(fn engine.KeyFunc, opts engine.FoldOptions) error
	IsEmpty() bool
	Status() map[string]any
	Callback(ref string, msg any)
}

// BackendHandler serves the key/value and index routes. The backend is
// not safe for concurrent use, so every call holds mu.
type BackendHandler struct {
	mu     sync.Mutex
	store  Store
	tracer trace.Tracer
}

func NewBackendHandler(store Store) *BackendHandler {
	return &BackendHandler{
		store:  store,
		tracer: otel.Tracer("github.com/neogan74/dualkv/internal/handlers"),
	}
}

// Register mounts the routes on router.
func (h *BackendHandler) Register(router fiber.Router) {
	router.Put("/buckets/:bucket/keys/:key", h.Put)
	router.Get("/buckets/:bucket/keys/:key", h.Get)
	router.Delete("/buckets/:bucket/keys/:key", h.Delete)
	router.Get("/buckets/:bucket/keys", h.ListKeys)
	router.Get("/buckets/:bucket/index/:index", h.QueryIndex)
	router.Get("/status", h.Status)
}

type putRequest struct {
	Value   string            `json:"value"`
	Indexes map[string]string `json:"indexes,omitempty"`
}

type objectResponse struct {
	Bucket  string            `json:"bucket"`
	Key     string            `json:"key"`
	Value   string            `json:"value"`
	Indexes map[string]string `json:"indexes,omitempty"`
}

type keysResponse struct {
	Bucket string   `json:"bucket"`
	Index  string   `json:"index,omitempty"`
	Keys   []string `json:"keys"`
}

func (h *BackendHandler) Put(c *fiber.Ctx) error {
	bucket, key := []byte(c.Params("bucket")), []byte(c.Params("key"))
	log := middleware.GetLogger(c)

	var body putRequest
	if err := c.BodyParser(&body); err != nil {
		log.Warn("Failed to parse request body", logger.Error(err))
		return middleware.BadRequest(c, "Invalid JSON body")
	}
	for name := range body.Indexes {
		if name == "" {
			return middleware.BadRequest(c, "Index name must not be empty")
		}
	}

	next := object.Object{Value: []byte(body.Value), Indexes: entries(body.Indexes)}
	value, err := object.Encode(next)
	if err != nil {
		return middleware.BadRequest(c, err.Error())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Entries the previous version carried but this one drops are removed.
	previous, err := h.load(bucket, key)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return storageError(c, err)
	}

	specs := object.ReplaceSpecs(previous, next)
	end := h.span(c, "backend.put", bucket, attribute.Int("dualkv.specs", len(specs)))
	err = h.store.Put(bucket, key, specs, value)
	end(err)
	if err != nil {
		return storageError(c, err)
	}

	log.Info("Object stored",
		logger.ByteString("bucket", bucket),
		logger.ByteString("key", key),
		logger.Int("indexes", len(next.Indexes)))
	return c.JSON(objectResponse{Bucket: string(bucket), Key: string(key), Value: body.Value, Indexes: body.Indexes})
}

func (h *BackendHandler) Get(c *fiber.Ctx) error {
	bucket, key := []byte(c.Params("bucket")), []byte(c.Params("key"))

	end := h.span(c, "backend.get", bucket)
	h.mu.Lock()
	obj, err := h.load(bucket, key)
	h.mu.Unlock()
	end(ignoreNotFound(err))

	if errors.Is(err, engine.ErrNotFound) {
		return middleware.NotFound(c, "Key not found")
	}
	if err != nil {
		return storageError(c, err)
	}

	indexes := make(map[string]string, len(obj.Indexes))
	for _, e := range obj.Indexes {
		indexes[e.Index] = string(e.Key)
	}
	return c.JSON(objectResponse{Bucket: string(bucket), Key: string(key), Value: string(obj.Value), Indexes: indexes})
}

func (h *BackendHandler) Delete(c *fiber.Ctx) error {
	bucket, key := []byte(c.Params("bucket")), []byte(c.Params("key"))

	end := h.span(c, "backend.delete", bucket)
	h.mu.Lock()
	err := h.store.Delete(bucket, key)
	h.mu.Unlock()
	end(err)

	if err != nil {
		return storageError(c, err)
	}
	middleware.GetLogger(c).Info("Object deleted",
		logger.ByteString("bucket", bucket),
		logger.ByteString("key", key))
	return c.JSON(fiber.Map{"message": "key deleted", "bucket": string(bucket), "key": string(key)})
}

func (h *BackendHandler) ListKeys(c *fiber.Ctx) error {
	bucket := c.Params("bucket")
	return h.fold(c, keysResponse{Bucket: bucket}, engine.InBucket([]byte(bucket)))
}

// QueryIndex answers ?eq= lookups and ?start=&end= range scans.
func (h *BackendHandler) QueryIndex(c *fiber.Ctx) error {
	bucket, index := c.Params("bucket"), c.Params("index")

	var query engine.IndexQuery
	switch {
	case c.Query("eq") != "":
		query.Eq = []byte(c.Query("eq"))
	case c.Query("start") != "" || c.Query("end") != "":
		query.Start = []byte(c.Query("start"))
		if end := c.Query("end"); end != "" {
			query.End = []byte(end)
		}
	default:
		return middleware.BadRequest(c, "Query requires eq or start/end")
	}

	opts := engine.FoldOptions{Bucket: &engine.BucketQualifier{
		Name:  []byte(bucket),
		Index: index,
		Query: query,
	}}
	return h.fold(c, keysResponse{Bucket: bucket, Index: index}, opts)
}

func (h *BackendHandler) fold(c *fiber.Ctx, resp keysResponse, opts engine.FoldOptions) error {
	resp.Keys = []string{}
	limit := c.QueryInt("limit", 0)

	end := h.span(c, "backend.fold_keys", []byte(resp.Bucket),
		attribute.Bool("dualkv.index_scoped", opts.IndexScoped()))
	h.mu.Lock()
	err := h.store.FoldKeys(func(_, key []byte) error {
		resp.Keys = append(resp.Keys, string(key))
		if limit > 0 && len(resp.Keys) >= limit {
			return engine.ErrStopFold
		}
		return nil
	}, opts)
	h.mu.Unlock()
	end(err)

	if err != nil {
		return storageError(c, err)
	}
	return c.JSON(resp)
}

func (h *BackendHandler) Status(c *fiber.Ctx) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	version, caps := h.store.APIVersion()
	return c.JSON(fiber.Map{
		"api_version":  version,
		"capabilities": caps,
		"empty":        h.store.IsEmpty(),
		"engines":      h.store.Status(),
	})
}

// Maintain delivers a maintenance message to the engines between requests.
func (h *BackendHandler) Maintain(ref string, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.store.Callback(ref, msg)
}

// span starts a child span of the request span and returns its finisher.
func (h *BackendHandler) span(c *fiber.Ctx, name string, bucket []byte, attrs ...attribute.KeyValue) func(error) {
	_, span := h.tracer.Start(c.UserContext(), name,
		trace.WithAttributes(append(attrs, attribute.String("dualkv.bucket", string(bucket)))...))
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, engine.ErrNotFound) {
		return nil
	}
	return err
}

// load reads and decodes an object. Callers hold mu.
func (h *BackendHandler) load(bucket, key []byte) (object.Object, error) {
	value, err := h.store.Get(bucket, key)
	if err != nil {
		return object.Object{}, err
	}
	return object.Decode(value)
}

func entries(indexes map[string]string) []object.Entry {
	if len(indexes) == 0 {
		return nil
	}
	out := make([]object.Entry, 0, len(indexes))
	for name, skey := range indexes {
		out = append(out, object.Entry{Index: name, Key: []byte(skey)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// storageError maps a backend failure to a response naming the failed step.
func storageError(c *fiber.Ctx, err error) error {
	var (
		startErr   *backend.EngineStartError
		primaryErr *backend.PrimaryEngineError
	)
	switch {
	case backend.IsValueDecodeFailure(err):
		return middleware.Error(c, fiber.StatusBadRequest, "value_decode", err.Error())
	case backend.IsIndexWriteFailure(err):
		return middleware.Error(c, fiber.StatusServiceUnavailable, "index_write", err.Error())
	case backend.IsIndexDeleteFailure(err):
		return middleware.Error(c, fiber.StatusServiceUnavailable, "index_delete", err.Error())
	case errors.As(err, &primaryErr):
		return middleware.Error(c, fiber.StatusInternalServerError, "primary_"+primaryErr.Op, err.Error())
	case errors.As(err, &startErr), errors.Is(err, engine.ErrNotStarted):
		return middleware.Error(c, fiber.StatusServiceUnavailable, "", err.Error())
	default:
		return middleware.InternalServerError(c, err.Error())
	}
}
