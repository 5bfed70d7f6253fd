package pipeline

import (
	"fmt"
	"sync"

	"github.com/clipforge/video-compositor/internal/core"
	"github.com/clipforge/video-compositor/internal/metrics"
	"github.com/clipforge/video-compositor/internal/resource"
)

// Context keys form a closed vocabulary: each stage declares which it reads
// and which it produces.
const (
	KeyJob           = "job"
	KeyDownloadedJob = "downloaded_job"
	KeyFixedJob      = "fixed_job"
	KeyAlignedJob    = "aligned_job"
	KeySegmentClips  = "segment_clips"
	KeyFinalClipPath = "final_clip_path"
	KeyUploadURL     = "upload_url"
)

// Context is the typed key/value store passed through pipeline stages, bound
// to one job's resource scope and metrics collector.
type Context struct {
	mu       sync.RWMutex
	data     map[string]interface{}
	metadata map[string]interface{}

	jobID     string
	scope     *resource.Scope
	collector *metrics.Collector
}

func NewContext(jobID string, scope *resource.Scope, collector *metrics.Collector) *Context {
	return &Context{
		data:      make(map[string]interface{}),
		metadata:  make(map[string]interface{}),
		jobID:     jobID,
		scope:     scope,
		collector: collector,
	}
}

func (c *Context) JobID() string               { return c.jobID }
func (c *Context) Scope() *resource.Scope      { return c.scope }
func (c *Context) Metrics() *metrics.Collector { return c.collector }

func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Set writes a produced value. Writes are producer-only: setting a key that
// already exists is a pipeline defect and fails.
func (c *Context) Set(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; exists {
		return core.NewError(core.KindProcessing, fmt.Sprintf("context key %q already produced", key))
	}
	c.data[key] = value
	return nil
}

func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// SetMeta records auxiliary metadata (warnings, preserved paths). Unlike
// data keys, metadata may be overwritten.
func (c *Context) SetMeta(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

func (c *Context) Meta(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// AddWarning appends a human-readable warning to the metadata warning list.
func (c *Context) AddWarning(warning string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, _ := c.metadata["warnings"].([]string)
	c.metadata["warnings"] = append(existing, warning)
}

func (c *Context) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, _ := c.metadata["warnings"].([]string)
	out := make([]string, len(w))
	copy(out, w)
	return out
}
