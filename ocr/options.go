package ocr

import "strconv"

// Tesseract page segmentation modes useful for diplomas.
const (
	PSMAuto        = 3
	PSMSingleBlock = 6
	PSMSparseText  = 11
)

// NameCharset holds the characters of Portuguese names and of the labels
// that introduce them on a diploma.
const NameCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
	"ÁÀÂÃÉÊÍÓÔÕÚÜÇáàâãéêíóôõúüç :'-"

func setVariable(in *Input, key, value string) {
	if in.Variables == nil {
		in.Variables = make(map[string]string)
	}
	in.Variables[key] = value
}

// WithTesseractPSM sets tessedit_pageseg_mode.
func WithTesseractPSM(mode int) InputOption {
	return func(in *Input) { setVariable(in, "tessedit_pageseg_mode", strconv.Itoa(mode)) }
}

// WithTesseractWhitelist restricts recognition to chars. An empty string
// leaves recognition unrestricted.
func WithTesseractWhitelist(chars string) InputOption {
	return func(in *Input) {
		if chars != "" {
			setVariable(in, "tessedit_char_whitelist", chars)
		}
	}
}
