package storage

import (
	"encoding/json"
	"errors"

	"spikedeploy/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the record version stamped on newly built artifacts.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeConfiguration(c model.Configuration) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeConfiguration(data []byte) (model.Configuration, error) {
	var config model.Configuration
	if err := json.Unmarshal(data, &config); err != nil {
		return model.Configuration{}, err
	}
	if err := checkVersion(config.VersionedRecord); err != nil {
		return model.Configuration{}, err
	}
	return config, nil
}

func EncodeRecording(r model.Recording) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRecording(data []byte) (model.Recording, error) {
	var recording model.Recording
	if err := json.Unmarshal(data, &recording); err != nil {
		return model.Recording{}, err
	}
	if err := checkVersion(recording.VersionedRecord); err != nil {
		return model.Recording{}, err
	}
	return recording, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
