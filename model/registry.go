package model

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c360/scanstreams/errors"
)

// SourceDecoder reconstructs a Source from its serialized form.
type SourceDecoder func(data []byte) (Source, error)

// HandleDecoder reconstructs a Handle from its serialized form.
type HandleDecoder func(data []byte) (Handle, error)

var (
	registryMu     sync.RWMutex
	sourceDecoders = make(map[string]SourceDecoder)
	handleDecoders = make(map[string]HandleDecoder)
)

// RegisterSource associates a scheme with a Source decoder. Concrete Source
// types call this from init.
func RegisterSource(scheme string, decoder SourceDecoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := sourceDecoders[scheme]; exists {
		panic(fmt.Sprintf("model: source scheme %q registered twice", scheme))
	}
	sourceDecoders[scheme] = decoder
}

// RegisterHandle associates a scheme with a Handle decoder.
func RegisterHandle(scheme string, decoder HandleDecoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := handleDecoders[scheme]; exists {
		panic(fmt.Sprintf("model: handle scheme %q registered twice", scheme))
	}
	handleDecoders[scheme] = decoder
}

// typeProbe extracts the discriminator without committing to a shape.
type typeProbe struct {
	Type string `json:"type"`
}

// DecodeSource reconstructs a Source from tagged JSON. An unregistered
// discriminator fails with ErrUnknownScheme; a missing discriminator or a
// payload the decoder rejects fails with ErrDeserialisation. Callers rely on
// the distinction to separate "someone else's scheme" from "broken data".
func DecodeSource(data []byte) (Source, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("%w: source object has no type", errors.ErrDeserialisation)
	}

	registryMu.RLock()
	decoder, ok := sourceDecoders[probe.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownScheme, probe.Type)
	}

	source, err := decoder(data)
	if err != nil {
		return nil, fmt.Errorf("%w: source %q: %v", errors.ErrDeserialisation, probe.Type, err)
	}
	return source, nil
}

// DecodeHandle reconstructs a Handle from tagged JSON with the same error
// distinction as DecodeSource.
func DecodeHandle(data []byte) (Handle, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrDeserialisation, err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("%w: handle object has no type", errors.ErrDeserialisation)
	}

	registryMu.RLock()
	decoder, ok := handleDecoders[probe.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownScheme, probe.Type)
	}

	handle, err := decoder(data)
	if err != nil {
		return nil, fmt.Errorf("%w: handle %q: %v", errors.ErrDeserialisation, probe.Type, err)
	}
	return handle, nil
}
