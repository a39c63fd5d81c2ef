package model

import (
	"time"
)

// Submission is a single social-media post flowing through the pipeline.
// ConceptID stays nil until batch concept resolution assigns it.
type Submission struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Selftext    string    `json:"selftext"`
	Subreddit   string    `json:"subreddit"`
	Author      string    `json:"author,omitempty"`
	Permalink   string    `json:"permalink,omitempty"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	CreatedUTC  time.Time `json:"created_utc"`

	ConceptID *string `json:"concept_id,omitempty"`

	// Results accumulates enrichment output per stage as the pipeline runs.
	Results map[Stage]*StageResult `json:"results,omitempty"`
}

// SetResult records a stage result on the submission.
func (s *Submission) SetResult(res *StageResult) {
	if res == nil {
		return
	}
	if s.Results == nil {
		s.Results = make(map[Stage]*StageResult, len(AllStages()))
	}
	s.Results[res.Stage] = res
}

// Result returns the recorded result for a stage, or nil.
func (s *Submission) Result(stage Stage) *StageResult {
	return s.Results[stage]
}

// ConceptText is the text a submission's concept identity is derived from.
func (s *Submission) ConceptText() string {
	return s.Title
}

// SubmissionStatus tracks a submission's progress through the batch state
// machine. ERRORED is absorbing but non-fatal: the submission is retained
// with whatever partial data it has.
type SubmissionStatus string

const (
	StatusFetched         SubmissionStatus = "fetched"
	StatusConceptResolved SubmissionStatus = "concept_resolved"
	StatusFreshEnriched   SubmissionStatus = "fresh_enriched"
	StatusCopied          SubmissionStatus = "copied"
	StatusStored          SubmissionStatus = "stored"
	StatusMetadataUpdated SubmissionStatus = "metadata_updated"
	StatusErrored         SubmissionStatus = "errored"
)
