package ingest

import (
	"encoding/json"
	"fmt"
	"os"
)

// Label is the class a cell classifier assigns to a cell value.
type Label int

const (
	LabelOther Label = iota
	LabelID
	LabelFullname
	LabelSurname
	LabelFirstname
)

// CellClassifier decides what kind of value a spreadsheet cell holds.
// Implementations are pretrained models; the pipeline only depends on
// this interface so the model can be swapped or stubbed.
type CellClassifier interface {
	Classify(features [FeatureCount]float64) Label
}

// treeNode is one node of a serialized decision tree. Leaves have
// feature = -1 and carry the label; internal nodes route on
// features[feature] <= threshold.
type treeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Label     Label   `json:"label"`
}

// TreeClassifier is a decision tree exported from the trained cell model.
type TreeClassifier struct {
	nodes []treeNode
}

// LoadTree reads a JSON-serialized decision tree from path.
func LoadTree(path string) (*TreeClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cell model: %w", err)
	}
	return ParseTree(data)
}

// ParseTree builds a TreeClassifier from serialized node data.
func ParseTree(data []byte) (*TreeClassifier, error) {
	var nodes []treeNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse cell model: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cell model has no nodes")
	}
	for i, n := range nodes {
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= FeatureCount {
			return nil, fmt.Errorf("cell model node %d: feature %d out of range", i, n.Feature)
		}
		if n.Left < 0 || n.Left >= len(nodes) || n.Right < 0 || n.Right >= len(nodes) {
			return nil, fmt.Errorf("cell model node %d: child index out of range", i)
		}
	}
	return &TreeClassifier{nodes: nodes}, nil
}

// Classify walks the tree from the root and returns the leaf label.
func (t *TreeClassifier) Classify(features [FeatureCount]float64) Label {
	i := 0
	for {
		n := t.nodes[i]
		if n.Feature < 0 {
			return n.Label
		}
		if features[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
