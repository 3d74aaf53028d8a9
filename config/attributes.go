package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ApplyAttributes overlays a partial attribute map onto an existing
// configuration. Used by the command channel for runtime configuration
// writes ({"system": {"junction_integration_time": 0.8}} and the like).
// The updated config is re-validated and derived values recomputed.
func (m *Machine) ApplyAttributes(attributes map[string]interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           m,
	})
	if err != nil {
		return errors.Wrap(err, "building config decoder")
	}
	if err := decoder.Decode(attributes); err != nil {
		return errors.Wrap(err, "decoding config attributes")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	m.Derive()
	return nil
}
