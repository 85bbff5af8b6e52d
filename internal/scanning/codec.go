package scanning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/portscope/internal/errors"
)

// Marshal encodes a session as indented JSON.
func Marshal(s *ScanSession) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Unmarshal decodes a JSON session and checks its schema version.
func Unmarshal(data []byte) (*ScanSession, error) {
	var s ScanSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.WrapScanError(errors.CodeValidation, "failed to decode session", err)
	}
	if err := checkSchema(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MarshalYAML encodes a session as YAML.
func MarshalYAML(s *ScanSession) ([]byte, error) {
	return yaml.Marshal(s)
}

// UnmarshalYAML decodes a YAML session and checks its schema version.
func UnmarshalYAML(data []byte) (*ScanSession, error) {
	var s ScanSession
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.WrapScanError(errors.CodeValidation, "failed to decode session", err)
	}
	if err := checkSchema(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func checkSchema(s *ScanSession) error {
	if s.SchemaVersion != SchemaVersion {
		return errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("unsupported schema version %d", s.SchemaVersion))
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// WriteFile stores a session at path, as YAML for .yaml and .yml files and
// JSON otherwise.
func WriteFile(path string, s *ScanSession) error {
	encode := Marshal
	if isYAML(path) {
		encode = MarshalYAML
	}
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// ReadFile loads a session written by WriteFile.
func ReadFile(path string) (*ScanSession, error) {
	// #nosec G304 - path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	if isYAML(path) {
		return UnmarshalYAML(data)
	}
	return Unmarshal(data)
}
