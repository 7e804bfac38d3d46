package models

import (
	"fmt"

	"dario.cat/mergo"
)

// Zone describes one region of the source document that a single
// analysis task is responsible for.
type Zone struct {
	Kind        string `json:"kind"` // "table", "header" or "footer"
	Description string `json:"description"`
	Page        int    `json:"page"`
}

// Well-known GlobalModifiers keys. The analysis stages normalize whatever
// the model returns into this vocabulary.
const (
	ModGlobalDiscount   = "Global_Discount_Amount"
	ModFreight          = "Freight_Amount"
	ModSGST             = "SGST_Amount"
	ModCGST             = "CGST_Amount"
	ModIGST             = "IGST_Amount"
	ModRoundOff         = "Round_Off"
	ModStatedGrandTotal = "Stated_Grand_Total"
)

// DocumentState is the single record threaded through the pipeline.
// Stages never mutate it directly; they receive a Clone and return a
// StateDelta, which the orchestrator applies on the canonical copy.
type DocumentState struct {
	SourceReference  string
	ExtractionPlan   []Zone
	RawTextFragments []string
	HeaderFields     map[string]string
	LineItems        []LineItem
	GlobalModifiers  map[string]float64
	Diagnostics      []string
	RetryCounter     int

	// Terminal is populated by the final assembler stage only.
	Terminal *TerminalRecord
}

// NewDocumentState creates the initial state for one pipeline run.
func NewDocumentState(sourceRef string, retry int) *DocumentState {
	return &DocumentState{
		SourceReference: sourceRef,
		HeaderFields:    map[string]string{},
		GlobalModifiers: map[string]float64{},
		RetryCounter:    retry,
	}
}

// StateDelta is the partial update a stage returns. Every field has its
// own merge policy, applied by DocumentState.Apply:
//
//   - Plan:        write-once (ignored if the plan is already set)
//   - Fragments:   appended in order
//   - Header:      shallow-merged, later keys overwrite
//   - Modifiers:   shallow-merged, later keys overwrite
//   - LineItems:   wholesale replacement when ReplaceItems is true
//   - Diagnostics: appended, never cleared
//   - Terminal:    overwrites (only the assembler sets it)
type StateDelta struct {
	Plan         []Zone
	Fragments    []string
	Header       map[string]string
	Modifiers    map[string]float64
	LineItems    []LineItem
	ReplaceItems bool
	Diagnostics  []string
	Terminal     *TerminalRecord
}

// Empty reports whether the delta carries no writes at all. A failed
// stage contributes an empty delta plus a diagnostic added by the
// orchestrator.
func (d *StateDelta) Empty() bool {
	return d == nil || (len(d.Plan) == 0 && len(d.Fragments) == 0 &&
		len(d.Header) == 0 && len(d.Modifiers) == 0 &&
		!d.ReplaceItems && len(d.Diagnostics) == 0 && d.Terminal == nil)
}

// Apply merges one stage's delta into the state. This is the only place
// the canonical state mutates and it is called single-threaded by the
// orchestrator, so no locking is needed on the document itself.
func (s *DocumentState) Apply(d *StateDelta) error {
	if d == nil {
		return nil
	}
	if len(d.Plan) > 0 && len(s.ExtractionPlan) == 0 {
		s.ExtractionPlan = append([]Zone(nil), d.Plan...)
	}
	s.RawTextFragments = append(s.RawTextFragments, d.Fragments...)
	if len(d.Header) > 0 {
		if s.HeaderFields == nil {
			s.HeaderFields = map[string]string{}
		}
		if err := mergo.Merge(&s.HeaderFields, d.Header, mergo.WithOverride); err != nil {
			return fmt.Errorf("merging header fields: %w", err)
		}
	}
	if len(d.Modifiers) > 0 {
		if s.GlobalModifiers == nil {
			s.GlobalModifiers = map[string]float64{}
		}
		if err := mergo.Merge(&s.GlobalModifiers, d.Modifiers, mergo.WithOverride); err != nil {
			return fmt.Errorf("merging global modifiers: %w", err)
		}
	}
	if d.ReplaceItems {
		s.LineItems = append([]LineItem(nil), d.LineItems...)
	}
	s.Diagnostics = append(s.Diagnostics, d.Diagnostics...)
	if d.Terminal != nil {
		s.Terminal = d.Terminal
	}
	return nil
}

// Clone returns a deep copy of the state. Stages read from a clone so
// that a concurrent sibling can never observe a half-applied merge.
func (s *DocumentState) Clone() *DocumentState {
	c := &DocumentState{
		SourceReference: s.SourceReference,
		RetryCounter:    s.RetryCounter,
		Terminal:        s.Terminal,
	}
	c.ExtractionPlan = append([]Zone(nil), s.ExtractionPlan...)
	c.RawTextFragments = append([]string(nil), s.RawTextFragments...)
	c.LineItems = append([]LineItem(nil), s.LineItems...)
	c.Diagnostics = append([]string(nil), s.Diagnostics...)
	c.HeaderFields = make(map[string]string, len(s.HeaderFields))
	for k, v := range s.HeaderFields {
		c.HeaderFields[k] = v
	}
	c.GlobalModifiers = make(map[string]float64, len(s.GlobalModifiers))
	for k, v := range s.GlobalModifiers {
		c.GlobalModifiers[k] = v
	}
	return c
}
