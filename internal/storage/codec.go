package storage

import (
	"encoding/json"
	"errors"

	"popgenval/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// StampRunMeta sets the current schema and codec versions.
func StampRunMeta(meta model.RunMeta) model.RunMeta {
	meta.VersionedRecord = model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
	return meta
}

func EncodeRunMeta(meta model.RunMeta) ([]byte, error) {
	return json.Marshal(meta)
}

func DecodeRunMeta(data []byte) (model.RunMeta, error) {
	var meta model.RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return model.RunMeta{}, err
	}
	if err := checkVersion(meta.VersionedRecord); err != nil {
		return model.RunMeta{}, err
	}
	return meta, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
