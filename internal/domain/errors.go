package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDataset is returned when one of the relations has no rows at load time.
	ErrEmptyDataset = errors.New("empty dataset")
	// ErrUnknownID is matched by every UnknownIDError.
	ErrUnknownID = errors.New("unknown id")
	// ErrNotTrained is returned when predicting before the ranker was trained.
	ErrNotTrained = errors.New("ranker is not trained")
	// ErrModelNotFound is returned when no persisted model bundle exists.
	ErrModelNotFound = errors.New("trained model not found")
	// ErrUnknownRanker is returned for a ranker kind outside the supported set.
	ErrUnknownRanker = errors.New("unknown ranker kind")
)

// IDKind names the identifier space an UnknownIDError refers to.
type IDKind string

const (
	KindClient  IDKind = "client"
	KindVehicle IDKind = "vehicle"
	KindUser    IDKind = "user index"
	KindItem    IDKind = "item index"
)

// UnknownIDError reports an id (or index) that is absent from the fitted mapping.
type UnknownIDError struct {
	Kind IDKind
	ID   int64
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown %s: %d", e.Kind, e.ID)
}

func (e *UnknownIDError) Is(target error) bool {
	return target == ErrUnknownID
}

// EmptyDatasetError wraps ErrEmptyDataset with the relation that was empty.
type EmptyDatasetError struct {
	Relation string
}

func (e *EmptyDatasetError) Error() string {
	return fmt.Sprintf("empty dataset: relation %q has no rows", e.Relation)
}

func (e *EmptyDatasetError) Is(target error) bool {
	return target == ErrEmptyDataset
}
