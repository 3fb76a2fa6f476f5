package llmactor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentinelqa/target"
	"sentinelqa/trajectory"
	"sentinelqa/utils/jsonx"
	"sentinelqa/verify"
)

const DefaultWait = time.Second

// decision is the JSON object the model replies with.
type decision struct {
	Action     string             `json:"action"`
	Target     *target.Descriptor `json:"target"`
	Selector   string             `json:"selector"`
	Value      looseString        `json:"value"`
	URL        string             `json:"url"`
	Key        string             `json:"key"`
	VerifyType string             `json:"verify_type"`
	Expected   looseString        `json:"expected"`
	Assertion  string             `json:"assertion"`
	Reasoning  string             `json:"reasoning"`
}

// looseString accepts numbers and booleans where a string is expected.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*s = ""
	case float64, bool:
		*s = looseString(fmt.Sprint(v))
	default:
		return fmt.Errorf("expected a string, got %s", string(b))
	}
	return nil
}

// ParseDecision turns a model reply into an action. Any failure is a
// DECISION_PARSE_ERROR.
func ParseDecision(content string) (trajectory.Action, error) {
	var d decision
	if obj, err := jsonx.ExtractObject(content); err != nil {
		return nil, decisionError(err, content)
	} else if err := json.Unmarshal([]byte(obj), &d); err != nil {
		return nil, decisionError(fmt.Errorf("error unmarshaling decision: %w", err), content)
	} else if kind, ok := trajectory.ParseActionKind(d.Action); !ok {
		return nil, decisionError(fmt.Errorf("unsupported action was attempted: %q", d.Action), content)
	} else if action, err := d.toAction(kind); err != nil {
		return nil, decisionError(err, content)
	} else {
		action.Meta().Reasoning = d.Reasoning
		return action, nil
	}
}

func (d *decision) toAction(kind trajectory.ActionKind) (trajectory.Action, error) {
	desc := d.descriptor()
	value := string(d.Value)
	switch kind {
	case trajectory.ActionKindClick:
		if desc == nil {
			return nil, errors.New("\"click\" action was taken but no target was supplied")
		}
		return trajectory.NewClickAction(desc, ""), nil
	case trajectory.ActionKindType:
		if desc == nil {
			return nil, errors.New("\"type\" action was taken but no target was supplied")
		}
		return trajectory.NewTypeAction(desc, "", value), nil
	case trajectory.ActionKindSelect:
		if desc == nil {
			return nil, errors.New("\"select\" action was taken but no target was supplied")
		} else if value == "" {
			return nil, errors.New("\"select\" action was taken but no value was supplied")
		}
		return trajectory.NewSelectAction(desc, "", value), nil
	case trajectory.ActionKindSubmit:
		return trajectory.NewSubmitAction(desc), nil
	case trajectory.ActionKindPress:
		key := firstNonEmpty(d.Key, value)
		if key == "" {
			return nil, errors.New("\"press\" action was taken but no key was supplied")
		}
		return trajectory.NewPressAction(key), nil
	case trajectory.ActionKindNavigate:
		url := firstNonEmpty(d.URL, value)
		if url == "" {
			return nil, errors.New("\"navigate\" action was taken but no url was supplied")
		}
		return trajectory.NewNavigateAction(url), nil
	case trajectory.ActionKindWait:
		wait := trajectory.NewWaitAction(parseWait(value))
		wait.Target = desc
		return wait, nil
	case trajectory.ActionKindVerify:
		return d.toVerify(desc)
	case trajectory.ActionKindComplete:
		return trajectory.NewCompleteAction(d.Reasoning), nil
	}
	return nil, fmt.Errorf("unsupported action was attempted: %s", kind)
}

func (d *decision) toVerify(desc *target.Descriptor) (trajectory.Action, error) {
	kind := verify.Kind(strings.ToLower(strings.TrimSpace(d.VerifyType)))
	if kind == "" {
		kind = verify.KindExists
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported verification kind: %q", d.VerifyType)
	}
	expected := string(d.Expected)
	switch kind {
	case verify.KindURLContains:
		if expected == "" {
			return nil, errors.New("url_contains verification needs an expected value")
		}
		desc = nil
	case verify.KindTextContains, verify.KindTextEquals:
		if expected == "" {
			return nil, fmt.Errorf("%s verification needs an expected value", kind)
		}
		fallthrough
	default:
		if desc == nil {
			return nil, fmt.Errorf("%s verification needs a target", kind)
		}
	}
	return trajectory.NewVerifyAction(verify.Assertion{
		Kind:        kind,
		Target:      desc,
		Expected:    expected,
		Description: d.Assertion,
	}), nil
}

// descriptor merges the structured target with the selector string. A
// text=X selector and a tag:contains("X") selector become a text target;
// anything else is kept as a selector hint.
func (d *decision) descriptor() *target.Descriptor {
	desc := &target.Descriptor{}
	if d.Target != nil {
		*desc = *d.Target
	}
	if sel := strings.TrimSpace(d.Selector); sel != "" {
		if text, ok := strings.CutPrefix(sel, "text="); ok {
			if desc.Text == "" {
				desc.Text = strings.Trim(strings.TrimSpace(text), `"'`)
			}
		} else if tag, text, ok := target.ParseTextSelector(sel); ok {
			if desc.Text == "" {
				desc.Text = text
			}
			if desc.Tag == "" {
				desc.Tag = tag
			}
		} else {
			desc.Selector = sel
		}
	}
	if desc.IsEmpty() {
		return nil
	}
	return desc
}

// parseWait reads "2s", "500ms" or a bare number of milliseconds.
func parseWait(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultWait
	} else if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	} else if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return DefaultWait
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
