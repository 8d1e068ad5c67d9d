package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dukex/dunning/pkg/models"
)

// Definition file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadCampaign reads a campaign definition file. The format follows the file extension;
// anything other than .json is read as YAML.
func LoadCampaign(path string) (*models.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign %s: %w", path, err)
	}

	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}

	campaign, err := ParseCampaign(data, format)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", path, err)
	}

	return campaign, nil
}

// ParseCampaign decodes and validates a campaign definition.
func ParseCampaign(data []byte, format string) (*models.Campaign, error) {
	var campaign models.Campaign

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &campaign); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &campaign); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
		}
	default:
		return nil, fmt.Errorf("unknown campaign format %q", format)
	}

	if err := validate.Struct(&campaign); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	return &campaign, nil
}
