package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clickstream/etl/pkg/types"
)

// dumpDataset writes a stage's output as JSON lines to
// <dir>/<NN>-<stage>.jsonl.
func dumpDataset(dir string, index int, stage string, ds *types.Dataset) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%02d-%s.jsonl", index, stage)))
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range ds.Records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}
