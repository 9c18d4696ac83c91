package storage

import (
	"errors"
	"reflect"
	"testing"
)

func TestConfigurationCodecRoundTrip(t *testing.T) {
	input := sampleConfiguration("cfg-1")

	encoded, err := EncodeConfiguration(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeConfiguration(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", decoded, input)
	}
}

func TestRecordingCodecRoundTrip(t *testing.T) {
	input := sampleRecording("rec-1")

	encoded, err := EncodeRecording(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRecording(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, input) {
		t.Fatalf("roundtrip mismatch\nactual=%+v\nexpected=%+v", decoded, input)
	}
}

func TestDecodeConfigurationVersionMismatch(t *testing.T) {
	input := sampleConfiguration("cfg-1")
	input.SchemaVersion = CurrentSchemaVersion + 1

	encoded, err := EncodeConfiguration(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeConfiguration(encoded); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeConfigurationRejectsGarbage(t *testing.T) {
	if _, err := DecodeConfiguration([]byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
