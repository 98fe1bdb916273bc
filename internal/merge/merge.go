// Package merge implements the Merge Engine (§4.G): folding a sequence of
// commands over a stream of JSON/YAML documents, clash-detecting structural
// merges, and serializing the result back out as JSON or YAML.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/cychiuae/syvault/internal/vaultlog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MergeMode controls whether a clash between an existing value and an
// incoming value is tolerated.
type MergeMode int

const (
	// NeverDrop fails the merge if any leaf value would be overwritten by a
	// differing incoming value.
	NeverDrop MergeMode = iota
	// Overwrite lets the incoming value win on every clash, silently.
	Overwrite
)

func (m MergeMode) String() string {
	if m == Overwrite {
		return "overwrite"
	}
	return "never-drop"
}

// OutputMode selects the serialization format used by Serialize.
type OutputMode int

const (
	JSON OutputMode = iota
	YAML
)

// State is the accumulator threaded through Reduce: the merged document so
// far, and the current merge/output mode.
type State struct {
	Value     interface{}
	MergeMode MergeMode
	OutputMode OutputMode
}

// CommandKind identifies the variant held by a Command.
type CommandKind int

const (
	CmdSetMergeMode CommandKind = iota
	CmdSetOutputMode
	CmdMergeStdin
	CmdMergePath
	CmdSerialize
)

// Command is a tagged union mirroring the Command enum commands are built
// from: SetMergeMode/SetOutputMode carry a mode, MergePath carries a path,
// MergeStdin and Serialize carry nothing.
type Command struct {
	Kind       CommandKind
	MergeMode  MergeMode
	OutputMode OutputMode
	Path       string
}

func SetMergeMode(mode MergeMode) Command   { return Command{Kind: CmdSetMergeMode, MergeMode: mode} }
func SetOutputMode(mode OutputMode) Command { return Command{Kind: CmdSetOutputMode, OutputMode: mode} }
func MergeStdin() Command                   { return Command{Kind: CmdMergeStdin} }
func MergePath(path string) Command         { return Command{Kind: CmdMergePath, Path: path} }
func Serialize() Command                    { return Command{Kind: CmdSerialize} }

// Reduce folds cmds over initial (a zero State if nil), reading MergeStdin
// documents from stdin and MergePath documents from disk, writing every
// Serialize command's output to w. It returns the final state.
func Reduce(cmds []Command, initial *State, stdin io.Reader, w io.Writer) (*State, error) {
	state := &State{}
	if initial != nil {
		*state = *initial
	}

	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdSetMergeMode:
			state.MergeMode = cmd.MergeMode
		case CmdSetOutputMode:
			state.OutputMode = cmd.OutputMode
		case CmdMergeStdin:
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, errors.Wrap(err, "failed to read standard input")
			}
			if err := mergeDocuments(state, data); err != nil {
				return nil, err
			}
		case CmdMergePath:
			data, err := os.ReadFile(cmd.Path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read '%s'", cmd.Path)
			}
			if err := mergeDocuments(state, data); err != nil {
				return nil, errors.Wrapf(err, "failed to merge '%s'", cmd.Path)
			}
		case CmdSerialize:
			if err := show(state.OutputMode, state.Value, w); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Errorf("unknown command kind %d", cmd.Kind)
		}
	}

	return state, nil
}

// mergeDocuments decodes data as one or more documents (auto-detecting
// JSON vs YAML) and folds merge over each, in order.
func mergeDocuments(state *State, data []byte) error {
	docs, err := decodeDocuments(data)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := merge(doc, state); err != nil {
			return err
		}
	}
	return nil
}

// decodeDocuments auto-detects JSON vs YAML and returns every top-level
// document it contains, in order. JSON input is always a single document;
// YAML input may be "---"-separated into several.
func decodeDocuments(data []byte) ([]interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		var doc interface{}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON document")
		}
		return []interface{}{doc}, nil
	}

	var docs []interface{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc interface{}
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode YAML document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// merge folds src into state.Value: an empty state simply adopts src;
// otherwise src is structurally diffed against the existing value, and any
// clashing leaf paths fail the merge when state.MergeMode is NeverDrop.
func merge(src interface{}, state *State) error {
	if state.Value == nil {
		state.Value = src
		return nil
	}

	var clashes []string
	merged := diffMerge("", state.Value, src, &clashes)

	if len(clashes) > 0 && state.MergeMode == NeverDrop {
		sort.Strings(clashes)
		return errors.Errorf("merge would overwrite %d existing key(s): %s", len(clashes), strings.Join(clashes, ", "))
	}

	if len(clashes) > 0 {
		vaultlog.Log().WithField("mode", state.MergeMode).WithField("count", len(clashes)).Debug("merge overwrote clashing keys")
	}

	state.Value = merged
	return nil
}

// diffMerge recursively merges incoming into existing, recording every path
// at which a leaf value differs into clashes. Maps merge key-by-key; any
// other pairing (scalars, lists, or a type change) is treated as a leaf:
// equal values are kept as-is, differing values record a clash and the
// incoming value wins.
func diffMerge(path string, existing, incoming interface{}, clashes *[]string) interface{} {
	existingMap, existingIsMap := existing.(map[string]interface{})
	incomingMap, incomingIsMap := incoming.(map[string]interface{})

	if existingIsMap && incomingIsMap {
		merged := make(map[string]interface{}, len(existingMap)+len(incomingMap))
		for k, v := range existingMap {
			merged[k] = v
		}
		for k, v := range incomingMap {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if ev, ok := existingMap[k]; ok {
				merged[k] = diffMerge(childPath, ev, v, clashes)
			} else {
				merged[k] = v
			}
		}
		return merged
	}

	if reflect.DeepEqual(existing, incoming) {
		return existing
	}

	if path == "" {
		path = "(root)"
	}
	*clashes = append(*clashes, path)
	return incoming
}

// show serializes value to w per outputMode: pretty-printed JSON, or YAML
// with a two-space indent.
func show(outputMode OutputMode, value interface{}, w io.Writer) error {
	switch outputMode {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(value), "failed to encode JSON output")
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return errors.Wrap(err, "failed to encode YAML output")
		}
		return errors.Wrap(enc.Close(), "failed to flush YAML encoder")
	default:
		return fmt.Errorf("unknown output mode %d", outputMode)
	}
}
