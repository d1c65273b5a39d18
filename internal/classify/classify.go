// Package classify maps backend failure signals to a closed set of recovery
// actions. Every function here is pure and never panics.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/raysh454/scanflow/internal/model"
)

type Kind string

const (
	KindValidation           Kind = "validation"
	KindAccessDenied         Kind = "access_denied"
	KindPaymentRequired      Kind = "payment_required"
	KindRateLimited          Kind = "rate_limited"
	KindCreationInProgress   Kind = "creation_in_progress"
	KindDuplicateTask        Kind = "duplicate_task"
	KindDuplicateTaskUnknown Kind = "duplicate_task_unknown"
	KindBlocked              Kind = "blocked"
	KindTaskFailed           Kind = "task_failed"
	KindPartialFailure       Kind = "partial_failure"
	KindUnclassified         Kind = "unclassified"
)

// Recovery is the action the user is steered towards.
type Recovery string

const (
	RecoveryLogin       Recovery = "login"
	RecoveryPurchase    Recovery = "purchase"
	RecoveryWait        Recovery = "wait"
	RecoveryBackoff     Recovery = "backoff"
	RecoveryRedirect    Recovery = "redirect"
	RecoveryShowMessage Recovery = "show_message"
	RecoveryNone        Recovery = "none"
)

type Classification struct {
	Kind       Kind         `json:"kind"`
	Recovery   Recovery     `json:"recovery"`
	Message    string       `json:"message"`
	TaskID     model.TaskID `json:"task_id,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
}

// Redirect reports whether the caller should silently open an existing task.
func (c Classification) Redirect() bool {
	return c.Recovery == RecoveryRedirect && c.TaskID != ""
}

// Terminal reports whether retrying can never succeed.
func (c Classification) Terminal() bool {
	return c.Kind == KindBlocked
}

// IsError reports whether the classification is shown as an error state.
// Duplicate tasks with a known id and partial failures are not.
func (c Classification) IsError() bool {
	return !c.Redirect() && c.Kind != KindPartialFailure
}

const (
	msgPaymentLogin       = "This feature requires an account. Please log in to continue."
	msgPaymentPurchase    = "You do not have enough credits for this scan. Please purchase more credits."
	msgBlocked            = "This website or account has been blocked from scanning."
	msgCreationInProgress = "A scan task is already being created. Please wait a few seconds and try again."
	msgRateLimited        = "Too many requests. Please slow down and try again later."
	msgDuplicate          = "A scan for this website is already running."
	msgUnknown            = "The request failed."
)

var (
	blacklistSignatures  = []string{"blacklist", "black list", "blocked", "banned"}
	inProgressSignatures = []string{"task creating", "creating task", "being created", "in progress", "in-progress"}
	rawTaskIDPattern     = regexp.MustCompile(`task_id["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]+)`)
	messageKeys          = []string{"message", "detail", "error", "msg"}
)

// Classify maps an HTTP status and raw response payload to a classification.
// authenticated selects the recovery for payment_required.
func Classify(status int, payload []byte, authenticated bool) Classification {
	msg, taskID := parsePayload(payload)
	lower := strings.ToLower(msg)

	c := Classification{StatusCode: status, Message: msg}

	switch {
	case status == http.StatusPaymentRequired:
		c.Kind = KindPaymentRequired
		if authenticated {
			c.Recovery = RecoveryPurchase
			c.Message = orDefault(msg, msgPaymentPurchase)
		} else {
			c.Recovery = RecoveryLogin
			c.Message = orDefault(msg, msgPaymentLogin)
		}

	case status == http.StatusForbidden && containsAny(lower, blacklistSignatures):
		c.Kind = KindBlocked
		c.Recovery = RecoveryNone
		c.Message = orDefault(msg, msgBlocked)

	case status == http.StatusTooManyRequests && containsAny(lower, inProgressSignatures):
		c.Kind = KindCreationInProgress
		c.Recovery = RecoveryWait
		c.Message = msgCreationInProgress

	case status == http.StatusTooManyRequests:
		c.Kind = KindRateLimited
		c.Recovery = RecoveryBackoff
		c.Message = msgRateLimited

	case status == http.StatusConflict && taskID != "":
		c.Kind = KindDuplicateTask
		c.Recovery = RecoveryRedirect
		c.TaskID = model.TaskID(taskID)
		c.Message = orDefault(msg, msgDuplicate)

	case status == http.StatusConflict:
		c.Kind = KindDuplicateTaskUnknown
		c.Recovery = RecoveryShowMessage
		c.Message = orDefault(msg, msgDuplicate)

	default:
		c.Kind = KindUnclassified
		c.Recovery = RecoveryShowMessage
		if msg == "" {
			if status > 0 {
				c.Message = fmt.Sprintf("HTTP %d", status)
			} else {
				c.Message = msgUnknown
			}
		}
	}
	return c
}

// StatusError is implemented by errors that carry an HTTP response.
type StatusError interface {
	error
	HTTPStatus() int
	Payload() []byte
}

// FromError classifies any error observed at a network boundary.
func FromError(err error, authenticated bool) Classification {
	if err == nil {
		return Classification{Kind: KindUnclassified, Recovery: RecoveryNone}
	}

	var se StatusError
	if errors.As(err, &se) {
		return Classify(se.HTTPStatus(), se.Payload(), authenticated)
	}
	if errors.Is(err, model.ErrValidation) {
		return Classification{Kind: KindValidation, Recovery: RecoveryShowMessage, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Kind: KindUnclassified, Recovery: RecoveryNone, Message: "canceled"}
	}
	return Classification{Kind: KindUnclassified, Recovery: RecoveryShowMessage, Message: err.Error()}
}

// AccessDenied builds the prompt shown when a premium module is not available.
func AccessDenied(code model.Module, res model.FeatureAccessResult) Classification {
	c := Classification{Kind: KindAccessDenied}
	switch res.Reason {
	case model.ReasonNotLoggedIn:
		c.Recovery = RecoveryLogin
		c.Message = fmt.Sprintf("Log in to use %s.", code)
	default:
		c.Recovery = RecoveryPurchase
		c.Message = fmt.Sprintf("Not enough credits to use %s.", code)
		if res.CreditsRequired != nil && res.CurrentCredits != nil {
			c.Message = fmt.Sprintf("Not enough credits to use %s: %d required, %d available.",
				code, *res.CreditsRequired, *res.CurrentCredits)
		}
	}
	return c
}

// TaskOutcome classifies a task that reached failed. A partial failure is a
// warning, a total one an error.
func TaskOutcome(task *model.Task) Classification {
	if task.PartialFailure() {
		return Classification{
			Kind:     KindPartialFailure,
			Recovery: RecoveryNone,
			Message:  "Some modules failed. Showing the results that completed.",
		}
	}
	return Classification{
		Kind:     KindTaskFailed,
		Recovery: RecoveryShowMessage,
		Message:  "The scan failed before any module completed.",
	}
}

// parsePayload extracts a human message and an optional task id. Non-JSON
// payloads fall back to the raw text.
func parsePayload(payload []byte) (msg string, taskID string) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return "", ""
	}

	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		// Some gateways send a JSON string or plain text.
		var s string
		if json.Unmarshal(payload, &s) == nil {
			raw = s
		}
		if m := rawTaskIDPattern.FindStringSubmatch(raw); m != nil {
			taskID = m[1]
		}
		return raw, taskID
	}
	return extract(body)
}

func extract(body map[string]any) (msg string, taskID string) {
	taskID = stringValue(body["task_id"])
	for _, k := range messageKeys {
		switch v := body[k].(type) {
		case string:
			if msg == "" {
				msg = v
			}
		case map[string]any:
			m, id := extract(v)
			if msg == "" {
				msg = m
			}
			if taskID == "" {
				taskID = id
			}
		}
	}
	return msg, taskID
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
