// internal/model/send_job.go
package model

import "time"

type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
	ContentAudio    ContentType = "audio"
	ContentTemplate ContentType = "template"
)

// IsMedia reports whether the content carries a media reference.
func (t ContentType) IsMedia() bool {
	switch t {
	case ContentImage, ContentVideo, ContentDocument, ContentAudio:
		return true
	}
	return false
}

func (t ContentType) Valid() bool {
	return t == ContentText || t == ContentTemplate || t.IsMedia()
}

type Content struct {
	Type     ContentType `json:"type"`
	Body     string      `json:"body"`
	MediaURL string      `json:"media_url,omitempty"`
	FileName string      `json:"file_name,omitempty"`

	// Template sends only.
	TemplateName     string   `json:"template_name,omitempty"`
	TemplateLanguage string   `json:"template_language,omitempty"`
	TemplateParams   []string `json:"template_params,omitempty"`
}

// TransportHint picks the transport for individual recipients. Group targets
// always use the direct provider.
type TransportHint string

const (
	HintIndividual TransportHint = "individual"
	HintGroup      TransportHint = "group"
)

type TargetSpec struct {
	Numbers  []string `json:"numbers"`
	GroupIDs []int    `json:"group_ids"`
	TagIDs   []int    `json:"tag_ids"`
}

// SendJob is immutable once created.
type SendJob struct {
	ID        string        `json:"id"`
	Content   Content       `json:"content"`
	Targets   TargetSpec    `json:"targets"`
	Hint      TransportHint `json:"hint"`
	CreatedAt time.Time     `json:"created_at"`
}
