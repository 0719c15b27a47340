package realtime

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

type ItemType string

const (
	ItemTypeMessage             ItemType = "message"
	ItemTypeFunctionCall        ItemType = "function_call"
	ItemTypeFunctionCallOutput  ItemType = "function_call_output"
	ItemTypeMCPApprovalRequest  ItemType = "mcp_approval_request"
	ItemTypeMCPApprovalResponse ItemType = "mcp_approval_response"
	ItemTypeMCPListTools        ItemType = "mcp_list_tools"
	ItemTypeMCPToolCall         ItemType = "mcp_call"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ContentType string

const (
	ContentTypeInputText   ContentType = "input_text"
	ContentTypeInputAudio  ContentType = "input_audio"
	ContentTypeOutputText  ContentType = "output_text"
	ContentTypeOutputAudio ContentType = "output_audio"
	ContentTypeText        ContentType = "text"
	ContentTypeAudio       ContentType = "audio"
)

// Item is a conversation item. The concrete types below are the closed set;
// each marshals with its "type" discriminator and omits absent fields.
type Item interface {
	ItemType() ItemType
}

type MessageContent struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Audio      string      `json:"audio,omitempty"`
}

type MessageItem struct {
	ID      string           `json:"id,omitempty"`
	Role    Role             `json:"role"`
	Content []MessageContent `json:"content"`
	Status  string           `json:"status,omitempty"`
}

func (MessageItem) ItemType() ItemType { return ItemTypeMessage }

func (i MessageItem) MarshalJSON() ([]byte, error) {
	type wire MessageItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeMessage, wire(i)})
}

// Text concatenates the text and transcript parts of the message.
func (i MessageItem) Text() string {
	var out string
	for _, c := range i.Content {
		switch {
		case c.Text != "":
			out += c.Text
		case c.Transcript != "":
			out += c.Transcript
		}
	}
	return out
}

type FunctionCallItem struct {
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status,omitempty"`
}

func (FunctionCallItem) ItemType() ItemType { return ItemTypeFunctionCall }

func (i FunctionCallItem) MarshalJSON() ([]byte, error) {
	type wire FunctionCallItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeFunctionCall, wire(i)})
}

type FunctionCallOutputItem struct {
	ID     string `json:"id,omitempty"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func (FunctionCallOutputItem) ItemType() ItemType { return ItemTypeFunctionCallOutput }

func (i FunctionCallOutputItem) MarshalJSON() ([]byte, error) {
	type wire FunctionCallOutputItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeFunctionCallOutput, wire(i)})
}

type MCPApprovalRequestItem struct {
	ID          string `json:"id,omitempty"`
	ServerLabel string `json:"server_label,omitempty"`
	Name        string `json:"name"`
	Arguments   string `json:"arguments,omitempty"`
}

func (MCPApprovalRequestItem) ItemType() ItemType { return ItemTypeMCPApprovalRequest }

func (i MCPApprovalRequestItem) MarshalJSON() ([]byte, error) {
	type wire MCPApprovalRequestItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeMCPApprovalRequest, wire(i)})
}

type MCPApprovalResponseItem struct {
	ID                string `json:"id,omitempty"`
	ApprovalRequestID string `json:"approval_request_id"`
	Approve           bool   `json:"approve"`
	Reason            string `json:"reason,omitempty"`
}

func (MCPApprovalResponseItem) ItemType() ItemType { return ItemTypeMCPApprovalResponse }

func (i MCPApprovalResponseItem) MarshalJSON() ([]byte, error) {
	type wire MCPApprovalResponseItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeMCPApprovalResponse, wire(i)})
}

type MCPToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type MCPListToolsItem struct {
	ID          string        `json:"id,omitempty"`
	ServerLabel string        `json:"server_label,omitempty"`
	Tools       []MCPToolInfo `json:"tools"`
}

func (MCPListToolsItem) ItemType() ItemType { return ItemTypeMCPListTools }

func (i MCPListToolsItem) MarshalJSON() ([]byte, error) {
	type wire MCPListToolsItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeMCPListTools, wire(i)})
}

type MCPToolCallItem struct {
	ID                string `json:"id,omitempty"`
	ServerLabel       string `json:"server_label,omitempty"`
	Name              string `json:"name"`
	Arguments         string `json:"arguments,omitempty"`
	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	Output            string `json:"output,omitempty"`
	Error             any    `json:"error,omitempty"`
}

func (MCPToolCallItem) ItemType() ItemType { return ItemTypeMCPToolCall }

func (i MCPToolCallItem) MarshalJSON() ([]byte, error) {
	type wire MCPToolCallItem
	return sonic.Marshal(struct {
		Type ItemType `json:"type"`
		wire
	}{ItemTypeMCPToolCall, wire(i)})
}

var errUnknownItemType = errors.New("unknown item type")

// decodeItem converts a raw item object into its concrete type. Missing
// optional fields stay empty; an unrecognised type yields errUnknownItemType.
func decodeItem(raw map[string]any) (Item, error) {
	t, ok := raw["type"].(string)
	if !ok || t == "" {
		return nil, errors.New("item is missing type")
	}
	data, err := sonic.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding item: %w", err)
	}

	var item Item
	switch ItemType(t) {
	case ItemTypeMessage:
		var v MessageItem
		err, item = sonic.Unmarshal(data, &v), &v
	case ItemTypeFunctionCall:
		var v FunctionCallItem
		err, item = sonic.Unmarshal(data, &v), &v
	case ItemTypeFunctionCallOutput:
		var v FunctionCallOutputItem
		err, item = sonic.Unmarshal(data, &v), &v
	case ItemTypeMCPApprovalRequest:
		var v MCPApprovalRequestItem
		err, item = sonic.Unmarshal(data, &v), &v
	case ItemTypeMCPApprovalResponse:
		var v MCPApprovalResponseItem
		err, item = sonic.Unmarshal(data, &v), &v
	case ItemTypeMCPListTools:
		var v MCPListToolsItem
		err, item = sonic.Unmarshal(data, &v), &v
	case ItemTypeMCPToolCall:
		var v MCPToolCallItem
		err, item = sonic.Unmarshal(data, &v), &v
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownItemType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s item: %w", t, err)
	}
	return deref(item), nil
}

// deref returns the value form so callers can type-switch on value types.
func deref(item Item) Item {
	switch v := item.(type) {
	case *MessageItem:
		return *v
	case *FunctionCallItem:
		return *v
	case *FunctionCallOutputItem:
		return *v
	case *MCPApprovalRequestItem:
		return *v
	case *MCPApprovalResponseItem:
		return *v
	case *MCPListToolsItem:
		return *v
	case *MCPToolCallItem:
		return *v
	}
	return item
}
