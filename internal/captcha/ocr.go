package captcha

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const ocrWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// ocrSolver invokes tesseract as an external recognizer over a preprocessed
// image, restricted to an alphanumeric whitelist in single-line mode.
type ocrSolver struct {
	binary string
}

func newOCRSolver(binary string) *ocrSolver {
	return &ocrSolver{binary: binary}
}

func (s *ocrSolver) Name() string { return "ocr" }

func (s *ocrSolver) Solve(ctx context.Context, image []byte) (string, error) {
	preprocessed, err := preprocess(image)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "captcha-*.png")
	if err != nil {
		return "", fmt.Errorf("write temp captcha file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(preprocessed); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp captcha file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp captcha file: %w", err)
	}

	// psm 7 treats the image as a single line of text.
	cmd := exec.CommandContext(ctx, s.binary,
		tmp.Name(), "stdout",
		"--psm", "7",
		"-c", "tessedit_char_whitelist="+ocrWhitelist,
	)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("run tesseract: %w", err)
	}

	text := strings.NewReplacer(" ", "", "\n", "", "\r", "").Replace(strings.TrimSpace(string(out)))
	if len(text) < 3 {
		return "", fmt.Errorf("ocr produced no valid text (%q)", text)
	}
	return text, nil
}
