// Package toolsimpl holds concrete tool implementations wired into the
// registry at startup: the filesystem-discoverable manifest units point
// back at these compiled-in factories.
package toolsimpl

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"

	"github.com/kestrelai/router/internal/kerr"
	"github.com/kestrelai/router/internal/tools"
)

// QRGenerate renders a QR code PNG for a wifi credential, a bare URL, or
// arbitrary text, returned as base64 in the result envelope's Value.
type QRGenerate struct{}

func NewQRGenerate() tools.Tool { return QRGenerate{} }

func (QRGenerate) Manifest() tools.ToolManifest {
	return tools.ToolManifest{
		Name:        "qr_generate",
		Description: "Generates a QR code for a wifi network, a URL, or plain text.",
		Category:    tools.CategoryUtility,
		TrustLevel:  tools.TrustCore,
		SecurityScopes: map[tools.SecurityScope]struct{}{
			tools.ScopeReadOnly: {},
		},
		ResourceProfile: tools.ProfileCpuLight,
		Parameters: []tools.ParameterSpec{
			{
				Name:        "qr_type",
				TypeTag:     tools.TypeEnum,
				Required:    true,
				EnumValues:  []string{"wifi", "url", "text"},
				Description: "the kind of payload to encode",
			},
			{
				Name:        "ssid",
				TypeTag:     tools.TypeString,
				Required:    false,
				Description: "wifi network name, required when qr_type=wifi",
			},
			{
				Name:        "password",
				TypeTag:     tools.TypeString,
				Required:    false,
				Default:     "",
				Description: "wifi password, optional for open networks",
			},
			{
				Name:        "content",
				TypeTag:     tools.TypeString,
				Required:    false,
				Description: "the URL or text to encode, required when qr_type is url or text",
			},
			{
				Name:        "size",
				TypeTag:     tools.TypeInteger,
				Required:    false,
				Default:     256,
				Min:         floatPtr(64),
				Max:         floatPtr(1024),
				Description: "output image size in pixels",
			},
		},
	}
}

func (QRGenerate) Execute(ctx context.Context, params map[string]any) (tools.Result, error) {
	qrType, _ := params["qr_type"].(string)
	size := 256
	if s, ok := asInt(params["size"]); ok {
		size = s
	}

	var payload string
	switch qrType {
	case "wifi":
		ssid, _ := params["ssid"].(string)
		if ssid == "" {
			return tools.Result{}, kerr.New(kerr.Validation, "ssid is required when qr_type=wifi").WithField("ssid")
		}
		password, _ := params["password"].(string)
		payload = fmt.Sprintf("WIFI:T:WPA;S:%s;P:%s;;", ssid, password)
	case "url", "text":
		content, _ := params["content"].(string)
		if content == "" {
			return tools.Result{}, kerr.New(kerr.Validation, "content is required when qr_type is url or text").WithField("content")
		}
		payload = content
	default:
		return tools.Result{}, kerr.Newf(kerr.Validation, "unsupported qr_type %q", qrType).WithField("qr_type")
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return tools.Result{}, kerr.Wrap(kerr.ToolExecution, err)
	}

	return tools.Result{
		Success: true,
		Value:   base64.StdEncoding.EncodeToString(png),
		Diagnostics: map[string]any{
			"qr_type":   qrType,
			"size":      size,
			"bytes_len": len(png),
		},
	}, nil
}

func floatPtr(f float64) *float64 { return &f }

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
