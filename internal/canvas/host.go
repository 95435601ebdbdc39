package canvas

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"drawbridge/internal/logger"
)

// Host executes design-tool actions against an in-memory document. It is the
// executor-side end of the command channel: it interprets action names and
// parameters, nothing more.
type Host struct {
	doc    *Document
	logger zerolog.Logger
}

// NewHost creates a host around a document
func NewHost(doc *Document) *Host {
	return &Host{
		doc:    doc,
		logger: logger.Component("canvas"),
	}
}

// Actions lists every action this host understands
func Actions() []string {
	return []string{
		"create_frame",
		"create_rectangle",
		"create_ellipse",
		"create_text",
		"set_fill_color",
		"set_text_content",
		"move_node",
		"resize_node",
		"delete_node",
		"get_node",
		"get_document_info",
		"export_summary",
	}
}

type createParams struct {
	Name     string  `json:"name"`
	ParentID string  `json:"parent_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Text     string  `json:"text"`
}

type fillParams struct {
	NodeID string   `json:"node_id"`
	R      float64  `json:"r"`
	G      float64  `json:"g"`
	B      float64  `json:"b"`
	A      *float64 `json:"a"`
}

type textParams struct {
	NodeID string `json:"node_id"`
	Text   string `json:"text"`
}

type moveParams struct {
	NodeID string  `json:"node_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type resizeParams struct {
	NodeID string  `json:"node_id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type nodeParams struct {
	NodeID string `json:"node_id"`
}

// Handle dispatches one action against the document. Parameter problems and
// unknown actions come back as errors; the agent turns them into failed
// responses rather than transport faults.
func (h *Host) Handle(ctx context.Context, action string, params json.RawMessage) (interface{}, error) {
	h.logger.Debug().Str("action", action).Msg("executing action")

	switch action {
	case "create_frame":
		return h.create(NodeFrame, params)
	case "create_rectangle":
		return h.create(NodeRectangle, params)
	case "create_ellipse":
		return h.create(NodeEllipse, params)
	case "create_text":
		return h.create(NodeText, params)
	case "set_fill_color":
		var p fillParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		alpha := 1.0
		if p.A != nil {
			alpha = *p.A
		}
		return h.doc.SetFill(p.NodeID, Color{R: p.R, G: p.G, B: p.B, A: alpha})
	case "set_text_content":
		var p textParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.doc.SetText(p.NodeID, p.Text)
	case "move_node":
		var p moveParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.doc.MoveNode(p.NodeID, p.X, p.Y)
	case "resize_node":
		var p resizeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.doc.ResizeNode(p.NodeID, p.Width, p.Height)
	case "delete_node":
		var p nodeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if err := h.doc.DeleteNode(p.NodeID); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": p.NodeID}, nil
	case "get_node":
		var p nodeParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.doc.GetNode(p.NodeID)
	case "get_document_info":
		return h.doc.Info(), nil
	case "export_summary":
		return h.doc.Export(), nil
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}

func (h *Host) create(nodeType NodeType, params json.RawMessage) (interface{}, error) {
	var p createParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Width <= 0 {
		p.Width = 100
	}
	if p.Height <= 0 {
		p.Height = 100
	}

	node, err := h.doc.CreateNode(nodeType, p.Name, p.ParentID, p.X, p.Y, p.Width, p.Height)
	if err != nil {
		return nil, err
	}
	if nodeType == NodeText && p.Text != "" {
		node, err = h.doc.SetText(node.ID, p.Text)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
