package dj

import (
	"encoding/json"
	"fmt"

	"github.com/michaelbrown/smartdj/internal/storage"
)

// NewTurn converts a finished turn into its history record. The access token
// is not part of the record.
func NewTurn(req Request, res *Result) (*storage.Turn, error) {
	actions, err := json.Marshal(res.Actions)
	if err != nil {
		return nil, fmt.Errorf("encoding actions: %w", err)
	}
	results, err := json.Marshal(res.Results)
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}

	outcomes := make([]storage.ActionOutcome, 0, len(res.Results))
	for _, r := range res.Results {
		outcomes = append(outcomes, storage.ActionOutcome{
			Kind:   string(r.Action),
			Detail: r.ActionDetail,
			Status: r.Status,
		})
	}

	return &storage.Turn{
		UserID:   req.UserID,
		Persona:  res.Persona,
		Message:  req.Message,
		Reply:    res.Message,
		Actions:  actions,
		Results:  results,
		Outcomes: outcomes,
		Failure:  string(res.Failure),
	}, nil
}
