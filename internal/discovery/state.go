package discovery

import "time"

type PipelineKind string

const (
	PipelineKeyword     PipelineKind = "keyword"
	PipelineHandleQueue PipelineKind = "handle_queue"
)

// PipelineState is a tagged variant: exactly one of Keyword or HandleQueue is
// set, matching Kind. It is decoded once when the job row is loaded, so the
// runner and aggregator never probe free-form JSON.
type PipelineState struct {
	Kind        PipelineKind      `json:"kind"`
	Keyword     *KeywordState     `json:"keyword,omitempty"`
	HandleQueue *HandleQueueState `json:"handle_queue,omitempty"`
}

// KeywordState tracks a keyword-search pipeline: how many keywords were
// dispatched to the provider, how many finished, and the two independent
// completion axes (found vs enriched) the progress estimate is built from.
type KeywordState struct {
	KeywordsDispatched int  `json:"keywords_dispatched"`
	KeywordsCompleted  int  `json:"keywords_completed"`
	CreatorsFound      int  `json:"creators_found"`
	CreatorsEnriched   int  `json:"creators_enriched"`
	Enriching          bool `json:"enriching"`
}

// HandleQueueState tracks a multi-handle pipeline seeded from profile handles.
type HandleQueueState struct {
	TotalHandles     int                      `json:"total_handles"`
	CompletedHandles int                      `json:"completed_handles"`
	RemainingHandles []string                 `json:"remaining_handles"`
	ActiveHandle     string                   `json:"active_handle"`
	PerHandle        map[string]HandleMetrics `json:"per_handle,omitempty"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

type HandleMetrics struct {
	CreatorsFound int `json:"creators_found"`
	PagesFetched  int `json:"pages_fetched"`
}

// NewKeywordPipeline seeds state for a keyword search over n keywords.
func NewKeywordPipeline(n int) PipelineState {
	return PipelineState{
		Kind:    PipelineKeyword,
		Keyword: &KeywordState{KeywordsDispatched: n},
	}
}

// NewHandleQueuePipeline seeds state for a handle-queue search.
func NewHandleQueuePipeline(handles []string) PipelineState {
	return PipelineState{
		Kind: PipelineHandleQueue,
		HandleQueue: &HandleQueueState{
			TotalHandles:     len(handles),
			RemainingHandles: handles,
			UpdatedAt:        time.Now(),
		},
	}
}

// Enriching reports whether the job is in its enrichment sub-phase.
func (p PipelineState) Enriching() bool {
	return p.Kind == PipelineKeyword && p.Keyword != nil && p.Keyword.Enriching
}
