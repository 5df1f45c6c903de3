package ocr

import "testing"

func TestTesseractOptions(t *testing.T) {
	in := Input{}
	WithTesseractPSM(PSMSingleBlock)(&in)
	if got := in.Variables["tessedit_pageseg_mode"]; got != "6" {
		t.Fatalf("expected PSM to be set, got %q", got)
	}
	WithTesseractWhitelist("")(&in)
	if _, ok := in.Variables["tessedit_char_whitelist"]; ok {
		t.Fatalf("empty whitelist should not be set")
	}
	WithTesseractWhitelist(NameCharset)(&in)
	if got := in.Variables["tessedit_char_whitelist"]; got != NameCharset {
		t.Fatalf("expected whitelist to be set, got %q", got)
	}
}
