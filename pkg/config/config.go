package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/treesync/pkg/errors"
)

// decodeErrTemplate is shown when the config isn't valid YAML, or doesn't
// match the Config schema. The parser's message is passed on as is.
const decodeErrTemplate = "The treesync config %q could not be parsed.\n" +
	"Check that:\n" +
	" - Durations such as `interval` and `backup.interval` are strings with " +
	"a unit, like \"10s\" or \"1h\"\n" +
	" - Every entry under `jobs` is a map with `source` and `target` keys\n" +
	" - There are no fields treesync doesn't know, such as a misspelled " +
	"`retain` outside of `backup`\n\n" +
	"The parser reported:\n" +
	"%s"

type versionMismatchError struct {
	path, exp, actual string
}

func (err versionMismatchError) Error() string {
	return err.FriendlyMessage()
}

func (err versionMismatchError) FriendlyMessage() string {
	return fmt.Sprintf("The treesync config %q has version %q.\n"+
		"Expected version %q. Update the `version` field after checking "+
		"the config against the current format.",
		err.path, err.actual, err.exp)
}

// decodeFile reads the config at `path` into `config`. Fields that are
// absent from the file keep their current value.
func decodeFile(path string, config *Config) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return errors.NewFriendlyError(decodeErrTemplate, path, err)
	}

	if config.Version != SupportedVersion {
		return versionMismatchError{path, SupportedVersion, config.Version}
	}

	// The lenient pass above reports a version mismatch before any unknown
	// field from a newer format gets a chance to fail the strict pass.
	err = yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields)
	if err != nil {
		return errors.NewFriendlyError(decodeErrTemplate, path, err)
	}
	return nil
}
