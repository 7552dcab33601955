package envelope

import (
	"encoding/json"
	"fmt"
)

// Location addresses a blob in the compute tier's storage.
type Location struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// OutputLocation is where the compute tier writes results for a job.
type OutputLocation struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

// OutputPrefix is the deterministic temporary output prefix for a job.
func OutputPrefix(t TaskType, jobID string) string {
	return fmt.Sprintf("temp/%s/%s/", t, jobID)
}

// TaskPayload is implemented only by the task structs in this package.
type TaskPayload interface {
	TaskType() TaskType
	isTaskPayload()
}

type DocumentIngestTask struct {
	Input        Location       `json:"input"`
	Output       OutputLocation `json:"output"`
	OutputFormat string         `json:"outputFormat"`
	MaxPages     int            `json:"maxPages,omitempty"`
}

type ImageTransformTask struct {
	Input   Location       `json:"input"`
	Output  OutputLocation `json:"output"`
	Format  string         `json:"format"`
	Quality int            `json:"quality"`
	Width   int            `json:"width,omitempty"`
	Height  int            `json:"height,omitempty"`
}

type DocumentRenderTask struct {
	Input    Location       `json:"input"`
	Output   OutputLocation `json:"output"`
	Format   string         `json:"format"`
	PageSize string         `json:"pageSize"`
}

type VideoAnalyzeTask struct {
	Input          Location       `json:"input"`
	Output         OutputLocation `json:"output"`
	FrameCount     int            `json:"frameCount"`
	SkipTranscript bool           `json:"skipTranscript,omitempty"`
}

func (DocumentIngestTask) TaskType() TaskType { return TaskDocumentIngest }
func (ImageTransformTask) TaskType() TaskType { return TaskImageTransform }
func (DocumentRenderTask) TaskType() TaskType { return TaskDocumentRender }
func (VideoAnalyzeTask) TaskType() TaskType   { return TaskVideoAnalyze }

func (DocumentIngestTask) isTaskPayload() {}
func (ImageTransformTask) isTaskPayload() {}
func (DocumentRenderTask) isTaskPayload() {}
func (VideoAnalyzeTask) isTaskPayload()   {}

// Object is a blob produced by the compute tier.
type Object struct {
	Key      string `json:"key"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ResultPayload is implemented only by the result structs in this package.
// Primary returns the object the job record points at.
type ResultPayload interface {
	TaskType() TaskType
	Primary() Object
	isResultPayload()
}

type DocumentIngestResult struct {
	Document  Object `json:"document"`
	PageCount int    `json:"pageCount,omitempty"`
	WordCount int    `json:"wordCount,omitempty"`
	Language  string `json:"language,omitempty"`
}

type ImageTransformResult struct {
	Image  Object `json:"image"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

type DocumentRenderResult struct {
	Document  Object `json:"document"`
	PageCount int    `json:"pageCount,omitempty"`
}

type VideoAnalyzeResult struct {
	Analysis        Object   `json:"analysis"`
	Thumbnails      []Object `json:"thumbnails,omitempty"`
	DurationSeconds float64  `json:"durationSeconds,omitempty"`
	FrameCount      int      `json:"frameCount,omitempty"`
}

func (*DocumentIngestResult) TaskType() TaskType { return TaskDocumentIngest }
func (*ImageTransformResult) TaskType() TaskType { return TaskImageTransform }
func (*DocumentRenderResult) TaskType() TaskType { return TaskDocumentRender }
func (*VideoAnalyzeResult) TaskType() TaskType   { return TaskVideoAnalyze }

func (r *DocumentIngestResult) Primary() Object { return r.Document }
func (r *ImageTransformResult) Primary() Object { return r.Image }
func (r *DocumentRenderResult) Primary() Object { return r.Document }
func (r *VideoAnalyzeResult) Primary() Object   { return r.Analysis }

func (*DocumentIngestResult) isResultPayload() {}
func (*ImageTransformResult) isResultPayload() {}
func (*DocumentRenderResult) isResultPayload() {}
func (*VideoAnalyzeResult) isResultPayload()   {}

// DecodeResult decodes raw into the payload struct for t. The primary
// object must carry a key.
func DecodeResult(t TaskType, raw json.RawMessage) (ResultPayload, error) {
	var p ResultPayload
	switch t {
	case TaskDocumentIngest:
		p = &DocumentIngestResult{}
	case TaskImageTransform:
		p = &ImageTransformResult{}
	case TaskDocumentRender:
		p = &DocumentRenderResult{}
	case TaskVideoAnalyze:
		p = &VideoAnalyzeResult{}
	default:
		return nil, fmt.Errorf("unknown task type %q", t)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%s result has no payload", t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	if p.Primary().Key == "" {
		return nil, fmt.Errorf("%s payload missing output key", t)
	}
	return p, nil
}
