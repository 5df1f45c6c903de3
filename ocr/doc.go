// Package ocr defines the contract for OCR engines used to read text from
// scanned pages that carry no text layer. Engines may be backed by local
// binaries, native libraries or remote APIs.
package ocr
