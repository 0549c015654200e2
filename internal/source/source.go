package source

import (
	"context"
	"fmt"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/events"
)

// Source opens dataset slices for chunked reading.
type Source interface {
	Open(ctx context.Context, ds analysis.DatasetDef) (Reader, error)
}

// Reader yields event chunks of at most maxEvents each. Next returns io.EOF
// once the dataset is exhausted.
type Reader interface {
	Next(maxEvents int) (*events.Chunk, error)
	Close() error
}

// For picks the source for a dataset: the declared kind when set, jsonl for
// datasets with files, synthetic pseudodata otherwise.
func For(ds analysis.DatasetDef) (Source, error) {
	kind := ds.Kind
	if kind == "" {
		if len(ds.Files) > 0 {
			kind = "jsonl"
		} else {
			kind = "synthetic"
		}
	}
	switch kind {
	case "jsonl":
		return JSONL{}, nil
	case "synthetic":
		return Synthetic{}, nil
	default:
		return nil, fmt.Errorf("dataset %q: unknown source kind %q", ds.Name, kind)
	}
}

func metadataFor(ds analysis.DatasetDef) events.Metadata {
	return events.Metadata{
		Sample:     ds.Sample,
		Dataset:    ds.Name,
		Year:       ds.Year,
		Era:        ds.Era,
		FinalState: ds.FinalState,
		IsMC:       ds.IsMC,
		XSec:       ds.XSec,
	}
}
