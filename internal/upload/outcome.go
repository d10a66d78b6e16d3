package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// OutcomeKind 上传结果分类
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeBackendError OutcomeKind = "backend_error"
	OutcomeProcessed    OutcomeKind = "processed"
	OutcomeHTTPStatus   OutcomeKind = "http_status"
	OutcomeUnreachable  OutcomeKind = "unreachable"
	OutcomeTimeout      OutcomeKind = "timeout"
	OutcomeCancelled    OutcomeKind = "cancelled"
	OutcomeNetwork      OutcomeKind = "network"
)

// Outcome 一次上传的终态
type Outcome struct {
	Kind    OutcomeKind
	Message string

	// Result 后端返回的结构化结果，可能为 nil
	Result *Result
}

// Result 后端响应
//
// 未知或缺失的字段不影响解析。
type Result struct {
	Status   string `json:"status"`
	Category string `json:"category"`
	Title    string `json:"title"`

	CalendarEventCreated *bool      `json:"calendar_event_created"`
	CalendarError        string     `json:"calendar_error"`
	EventInfo            *EventInfo `json:"event_info"`

	NotionCreated *bool       `json:"notion_created"`
	NotionError   string      `json:"notion_error"`
	NotionInfo    *NotionInfo `json:"notion_info"`
}

// EventInfo 日历事件信息
type EventInfo struct {
	Title        string `json:"title"`
	CalendarLink string `json:"calendar_link"`
}

// NotionInfo Notion 页面信息
type NotionInfo struct {
	Database string `json:"database"`
	PageURL  string `json:"page_url"`
}

// CalendarLink 日历事件链接
func (r *Result) CalendarLink() string {
	if r == nil || r.EventInfo == nil {
		return ""
	}
	return r.EventInfo.CalendarLink
}

// NotionPageURL Notion 页面链接
func (r *Result) NotionPageURL() string {
	if r == nil || r.NotionInfo == nil {
		return ""
	}
	return r.NotionInfo.PageURL
}

// Classify 把上传结果转换为用户可读的终态
func Classify(result *Result, err error, baseURL string) Outcome {
	if err != nil {
		return classifyError(err, baseURL)
	}
	if result == nil {
		return Outcome{Kind: OutcomeProcessed, Message: "Screenshot processed"}
	}
	return describe(result)
}

func classifyError(err error, baseURL string) Outcome {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return Outcome{Kind: OutcomeHTTPStatus, Message: fmt.Sprintf("Upload failed (HTTP %d)", statusErr.Code)}
	case errors.Is(err, ErrServiceUnavailable):
		return Outcome{Kind: OutcomeUnreachable, Message: fmt.Sprintf("Capture service is not running at %s", baseURL)}
	case errors.Is(err, context.Canceled):
		return Outcome{Kind: OutcomeCancelled, Message: "Upload cancelled"}
	case isTimeout(err):
		return Outcome{Kind: OutcomeTimeout, Message: "Upload timed out"}
	default:
		return Outcome{Kind: OutcomeNetwork, Message: fmt.Sprintf("Network error: %v", rootCause(err))}
	}
}

func describe(r *Result) Outcome {
	title := r.Title
	if title == "" {
		title = "Untitled"
	}

	if r.Category == "event" {
		switch {
		case r.CalendarEventCreated != nil && *r.CalendarEventCreated:
			return Outcome{Kind: OutcomeSuccess, Message: fmt.Sprintf("✓ Added to Google Calendar: %s", title), Result: r}
		case containsFold(r.CalendarError, "not connected"):
			return Outcome{Kind: OutcomeBackendError, Message: "Google Calendar not connected. Connect it in settings.", Result: r}
		case r.CalendarError != "":
			return Outcome{Kind: OutcomeBackendError, Message: fmt.Sprintf("Calendar error: %s", r.CalendarError), Result: r}
		}
		return processed(r)
	}

	switch {
	case r.NotionCreated != nil && *r.NotionCreated:
		msg := fmt.Sprintf("✓ Saved to Notion: %s", title)
		if r.NotionInfo != nil && r.NotionInfo.Database != "" {
			msg += fmt.Sprintf(" (%s)", r.NotionInfo.Database)
		}
		return Outcome{Kind: OutcomeSuccess, Message: msg, Result: r}
	case containsFold(r.NotionError, "no notion databases"):
		return Outcome{Kind: OutcomeBackendError, Message: "No Notion databases found. Share a page with databases with this app.", Result: r}
	case containsFold(r.NotionError, "no suitable database"):
		msg := "No suitable Notion database found"
		if _, reason, ok := strings.Cut(r.NotionError, ":"); ok && strings.TrimSpace(reason) != "" {
			msg += ": " + strings.TrimSpace(reason)
		}
		return Outcome{Kind: OutcomeBackendError, Message: msg, Result: r}
	case containsFold(r.NotionError, "not connected"):
		return Outcome{Kind: OutcomeBackendError, Message: "Notion not connected. Connect it in settings.", Result: r}
	case r.NotionError != "":
		return Outcome{Kind: OutcomeBackendError, Message: fmt.Sprintf("Notion error: %s", r.NotionError), Result: r}
	}
	return processed(r)
}

func processed(r *Result) Outcome {
	msg := "Screenshot processed"
	if r.Title != "" {
		msg += ": " + r.Title
	}
	return Outcome{Kind: OutcomeProcessed, Message: msg, Result: r}
}

// classifyTransportError 连接被拒绝归为 ErrServiceUnavailable，其余原样包装
func classifyTransportError(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return fmt.Errorf("http request: %w", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// rootCause 去掉 url.Error 等外层包装，消息更短
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
