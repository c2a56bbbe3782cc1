package actions

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rendis/stepflow/pkg/schema"
)

var digests = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
	"sha1":   sha1.New,
	"md5":    md5.New,
}

var digestEncodings = map[string]func([]byte) string{
	"hex":    hex.EncodeToString,
	"base64": base64.StdEncoding.EncodeToString,
}

// CryptoActions returns crypto.hash and crypto.uuid.
func CryptoActions() []Action {
	return []Action{fingerprintAction{}, uuidAction{}}
}

// fingerprintAction digests text, typically an artifact body, so a later step can tell
// whether a reviewer edited it.
type fingerprintAction struct{}

func (fingerprintAction) Name() string { return "crypto.hash" }

func (fingerprintAction) Schema() ActionSchema {
	return ActionSchema{Description: "Digest 'data' with 'algorithm' (sha256) in 'encoding' (hex)"}
}

func (fingerprintAction) Validate(params map[string]any) error {
	if _, ok := params["data"].(string); !ok {
		return schema.NewError(schema.ErrCodeValidation, "crypto.hash requires a 'data' string")
	}
	_, _, err := fingerprintOptions(params)
	return err
}

func (fingerprintAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	newHash, encode, err := fingerprintOptions(input.Params)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write([]byte(stringParam(input.Params, "data", "")))
	return output(map[string]any{
		"hash":      encode(h.Sum(nil)),
		"algorithm": stringParam(input.Params, "algorithm", "sha256"),
	}), nil
}

func fingerprintOptions(params map[string]any) (func() hash.Hash, func([]byte) string, error) {
	alg := stringParam(params, "algorithm", "sha256")
	newHash, ok := digests[alg]
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported hash algorithm %q (want one of %s)",
			alg, strings.Join(slices.Sorted(maps.Keys(digests)), ", "))
	}
	enc := stringParam(params, "encoding", "hex")
	encode, ok := digestEncodings[enc]
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported encoding %q", enc)
	}
	return newHash, encode, nil
}

type uuidAction struct{}

func (uuidAction) Name() string                  { return "crypto.uuid" }
func (uuidAction) Validate(map[string]any) error { return nil }

func (uuidAction) Schema() ActionSchema {
	return ActionSchema{Description: "Generate a random v4 UUID"}
}

func (uuidAction) Execute(context.Context, ActionInput) (*ActionOutput, error) {
	return output(map[string]any{"uuid": uuid.NewString()}), nil
}
