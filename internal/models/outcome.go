package models

import "fmt"

// NoMatchGame is the reserved bucket for clips that match no known game.
const NoMatchGame = "No match of games found"

// NoClustersMessage is reported when an unlabeled clip arrives before any game is known.
const NoClustersMessage = "No existing clusters to compare with"

// OutcomeKind says which classify branch produced an Outcome.
type OutcomeKind string

const (
	// OutcomeLabeled: vectors were added to the caller-supplied game.
	OutcomeLabeled OutcomeKind = "labeled"
	// OutcomeMatched: the clip matched an existing game above the threshold.
	OutcomeMatched OutcomeKind = "matched"
	// OutcomeUnmatched: best similarity was below the threshold.
	OutcomeUnmatched OutcomeKind = "unmatched"
	// OutcomeNoClusters: nothing to compare with; store unchanged.
	OutcomeNoClusters OutcomeKind = "no_clusters"
)

// Outcome is the result of classifying one clip.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Game       string      `json:"game,omitempty"`
	Message    string      `json:"message,omitempty"`
	Similarity float64     `json:"similarity,omitempty"`
	Vectors    int         `json:"vectors"`
	Created    bool        `json:"created,omitempty"`
}

// Mutated reports whether the outcome added vectors to the store.
func (o *Outcome) Mutated() bool {
	return o != nil && o.Kind != OutcomeNoClusters
}

// LabeledMessage is the message returned for a labeled upload.
func LabeledMessage(game string) string {
	return fmt.Sprintf("New game '%s' added to clusters.", game)
}

// UploadResponse is the JSON body of POST /upload. Exactly one of Message or Game is set.
type UploadResponse struct {
	Message      string   `json:"message,omitempty"`
	Game         string   `json:"game,omitempty"`
	SimilarGames []string `json:"similar_games,omitempty"`
}

// Response converts an outcome to the upload response shape.
func (o *Outcome) Response() *UploadResponse {
	switch o.Kind {
	case OutcomeMatched, OutcomeUnmatched:
		return &UploadResponse{Game: o.Game}
	default:
		return &UploadResponse{Message: o.Message}
	}
}
