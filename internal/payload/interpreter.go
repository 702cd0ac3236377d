// Package payload decides which convention-derivable metadata goes on the
// wire for a response, from the response format and the requested
// odata.metadata level.
package payload

import (
	"mime"
	"strings"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/odataerr"
)

// Level is the requested amount of payload metadata
type Level int

const (
	LevelMinimal Level = iota
	LevelFull
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelFull:
		return constants.MetadataFull
	case LevelNone:
		return constants.MetadataNone
	default:
		return constants.MetadataMinimal
	}
}

// Format is the response format family
type Format int

const (
	FormatJSON Format = iota
	FormatAtom
	FormatVerboseJSON
)

func (f Format) String() string {
	switch f {
	case FormatAtom:
		return "atom"
	case FormatVerboseJSON:
		return "verbose-json"
	default:
		return "json"
	}
}

// ParseLevel maps an odata.metadata token to a Level. An empty token means
// minimal.
func ParseLevel(token string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", constants.MetadataMinimal, "minimalmetadata":
		return LevelMinimal, nil
	case constants.MetadataFull, "fullmetadata":
		return LevelFull, nil
	case constants.MetadataNone, "nometadata":
		return LevelNone, nil
	}
	return LevelMinimal, odataerr.BadRequest(odataerr.CodeUnknownMetadataLevel, constants.MetadataParameter,
		"unknown metadata level %q", token)
}

// Interpreter answers, per metadata item, whether it is written. It is
// fixed for the lifetime of one response.
type Interpreter struct {
	format Format
	level  Level
	// typeLevel drives type annotations; it only differs from level for
	// formats without runtime metadata selection
	typeLevel Level
}

// NewInterpreter builds the policy for format and a requested level token.
// Only the JSON family honours the token; other formats always write full
// metadata with minimal type names.
func NewInterpreter(format Format, token string) (*Interpreter, error) {
	if format != FormatJSON {
		return &Interpreter{format: format, level: LevelFull, typeLevel: LevelMinimal}, nil
	}
	level, err := ParseLevel(token)
	if err != nil {
		return nil, err
	}
	return &Interpreter{format: format, level: level, typeLevel: level}, nil
}

// InterpreterFromContentType parses a response media type such as
// "application/json;odata.metadata=full" into an Interpreter
func InterpreterFromContentType(mediaType string) (*Interpreter, error) {
	if strings.TrimSpace(mediaType) == "" {
		return NewInterpreter(FormatJSON, "")
	}
	base, params, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return nil, odataerr.BadRequest(odataerr.CodeUnexpectedFormat, mediaType, "malformed media type").WithCause(err)
	}

	switch base {
	case constants.ContentTypeAtomXML, constants.ContentTypeXML:
		return NewInterpreter(FormatAtom, "")
	case constants.ContentTypeJSON:
	default:
		return nil, odataerr.BadRequest(odataerr.CodeUnexpectedFormat, mediaType, "unsupported response media type")
	}

	// v2/v3 style: application/json;odata=verbose|fullmetadata|nometadata
	if legacy, ok := params["odata"]; ok {
		if strings.EqualFold(legacy, "verbose") {
			return NewInterpreter(FormatVerboseJSON, "")
		}
		return NewInterpreter(FormatJSON, legacy)
	}
	return NewInterpreter(FormatJSON, params[constants.MetadataParameter])
}

// Level returns the effective metadata level
func (i *Interpreter) Level() Level { return i.level }

// Format returns the response format
func (i *Interpreter) Format() Format { return i.format }

// ContentType renders the media type the response is written with
func (i *Interpreter) ContentType() string {
	switch i.format {
	case FormatAtom:
		return constants.ContentTypeAtomXML
	case FormatVerboseJSON:
		return constants.ContentTypeODataJSON
	}
	return constants.ContentTypeJSON + ";" + constants.MetadataParameter + "=" + i.level.String()
}

// ShouldIncludeTypeAnnotation decides the visible type name of an entry.
// Under minimal metadata it is written only when the runtime type differs
// from the base type of the set the entry belongs to.
func (i *Interpreter) ShouldIncludeTypeAnnotation(setBaseType, runtimeType string) bool {
	switch i.typeLevel {
	case LevelFull:
		return true
	case LevelNone:
		return false
	}
	return setBaseType != runtimeType
}

// ShouldIncludeETag covers entity ETags: written under full and minimal
func (i *Interpreter) ShouldIncludeETag() bool {
	return i.level != LevelNone
}

// ShouldIncludeProviderValue covers values a client cannot compute from
// naming conventions, such as a media content type
func (i *Interpreter) ShouldIncludeProviderValue() bool {
	return i.level != LevelNone
}

// ShouldIncludeConventional covers convention-derivable values such as an
// entry Id or edit link. Under minimal metadata they are written only when
// the provider overrode the computed value.
func (i *Interpreter) ShouldIncludeConventional(computed, override string) bool {
	switch i.level {
	case LevelFull:
		return true
	case LevelNone:
		return false
	}
	return override != "" && override != computed
}

// ShouldIncludeContextURL covers @odata.context
func (i *Interpreter) ShouldIncludeContextURL() bool {
	return i.format == FormatJSON && i.level != LevelNone
}

// ShouldAdvertiseOperation decides whether an action is written at all.
// Actions that are always available are implied under minimal metadata.
func (i *Interpreter) ShouldAdvertiseOperation(alwaysAvailable bool) bool {
	switch i.level {
	case LevelFull:
		return true
	case LevelNone:
		return false
	}
	return !alwaysAvailable
}
