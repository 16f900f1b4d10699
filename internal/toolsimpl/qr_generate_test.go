package toolsimpl

import (
	"context"
	"testing"

	"github.com/kestrelai/router/internal/kerr"
)

// TestQRGenerateMissingSSIDFailsValidation covers S6 at the concrete-tool level:
// qr_generate called with {qr_type: "wifi"} but missing ssid. ssid is only
// conditionally required (when qr_type=wifi), so the manifest itself marks it
// optional and Execute enforces the constraint directly; Pipeline.Prepare
// would not catch this since it only checks manifest-declared Required fields.
func TestQRGenerateMissingSSIDFailsValidation(t *testing.T) {
	tool := NewQRGenerate()

	_, err := tool.Execute(context.Background(), map[string]any{"qr_type": "wifi"})
	if err == nil {
		t.Fatal("expected a validation error for missing ssid")
	}
	ke, ok := kerr.As(err)
	if !ok || ke.Kind != kerr.Validation {
		t.Fatalf("expected kerr.Validation, got %v", err)
	}
	if ke.Field != "ssid" {
		t.Fatalf("expected field ssid, got %q", ke.Field)
	}
}

func TestQRGenerateWifiProducesBase64PNG(t *testing.T) {
	tool := NewQRGenerate()
	result, err := tool.Execute(context.Background(), map[string]any{
		"qr_type": "wifi", "ssid": "home-net", "password": "s3cret", "size": 256,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if _, ok := result.Value.(string); !ok {
		t.Fatalf("expected base64 string value, got %T", result.Value)
	}
}

func TestQRGenerateURLMissingContentFails(t *testing.T) {
	tool := NewQRGenerate()
	_, err := tool.Execute(context.Background(), map[string]any{"qr_type": "url"})
	if err == nil {
		t.Fatal("expected an error for missing content")
	}
	if kerr.KindOf(err) != kerr.Validation {
		t.Fatalf("expected kerr.Validation, got %v", kerr.KindOf(err))
	}
}

func TestQRGenerateUnsupportedTypeFails(t *testing.T) {
	tool := NewQRGenerate()
	_, err := tool.Execute(context.Background(), map[string]any{"qr_type": "carrier_pigeon"})
	if err == nil {
		t.Fatal("expected an error for an unsupported qr_type")
	}
}
