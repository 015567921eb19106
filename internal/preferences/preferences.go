// Package preferences turns user edits into minimal partial updates.
//
// An edit may touch any subset of the preference groups. Only touched groups
// end up in the patch, so edits coming from independent panels never
// overwrite each other's fields with stale values.
package preferences

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/smazurov/livecast/internal/livestream"
)

// RecordingEdit holds the touched recording sub-fields.
type RecordingEdit struct {
	Enabled         *bool
	RetentionDays   *int
	StorageLocation *livestream.StorageLocation
	PostProcessing  []livestream.PostProcessing // nil is sent as an empty set
}

// Edit is a user edit to stream preferences. Nil fields are untouched.
type Edit struct {
	Recording     *RecordingEdit
	Languages     []string
	Quality       *livestream.Quality
	AutoTranslate *bool
	Subtitles     *bool
}

// Build validates an edit and produces the patch to submit. The wire format
// cannot tell "no change" from "clear all" for post-processing, so a touched
// recording group always carries an explicit, possibly empty, set.
func Build(edit Edit) (livestream.PreferencesPatch, error) {
	var patch livestream.PreferencesPatch

	if edit.Recording != nil {
		rec, err := buildRecording(*edit.Recording)
		if err != nil {
			return livestream.PreferencesPatch{}, err
		}
		patch.Recording = rec
	}

	if edit.Languages != nil {
		langs, err := CanonicalLanguages(edit.Languages)
		if err != nil {
			return livestream.PreferencesPatch{}, err
		}
		patch.Languages = langs
	}

	if edit.Quality != nil {
		if !edit.Quality.Valid() {
			return livestream.PreferencesPatch{}, livestream.ValidationError("unknown quality %q", *edit.Quality)
		}
		q := *edit.Quality
		patch.Quality = &q
	}

	if edit.AutoTranslate != nil {
		v := *edit.AutoTranslate
		patch.AutoTranslate = &v
	}
	if edit.Subtitles != nil {
		v := *edit.Subtitles
		patch.Subtitles = &v
	}

	if patch.Empty() {
		return livestream.PreferencesPatch{}, livestream.ValidationError("edit touches no preference")
	}
	return patch, nil
}

func buildRecording(edit RecordingEdit) (*livestream.RecordingPatch, error) {
	rec := &livestream.RecordingPatch{
		PostProcessing: []livestream.PostProcessing{},
	}
	if edit.Enabled != nil {
		v := *edit.Enabled
		rec.Enabled = &v
	}
	if edit.RetentionDays != nil {
		if *edit.RetentionDays < 0 {
			return nil, livestream.ValidationError("retention days must be >= 0, got %d", *edit.RetentionDays)
		}
		v := *edit.RetentionDays
		rec.RetentionDays = &v
	}
	if edit.StorageLocation != nil {
		if !edit.StorageLocation.Valid() {
			return nil, livestream.ValidationError("unknown storage location %q", *edit.StorageLocation)
		}
		v := *edit.StorageLocation
		rec.StorageLocation = &v
	}

	seen := make(map[livestream.PostProcessing]bool, len(edit.PostProcessing))
	for _, step := range edit.PostProcessing {
		if !step.Valid() {
			return nil, livestream.ValidationError("unknown post-processing step %q", step)
		}
		if seen[step] {
			continue
		}
		seen[step] = true
		rec.PostProcessing = append(rec.PostProcessing, step)
	}
	return rec, nil
}

// CanonicalLanguages parses BCP 47 tags, returns them in canonical form and
// drops duplicates while keeping the first occurrence. The list must not be
// empty, since its first entry is the primary language.
func CanonicalLanguages(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, livestream.ValidationError("at least one language is required")
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, raw := range tags {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, livestream.ValidationError("empty language tag")
		}
		tag, err := language.Parse(raw)
		if err != nil {
			return nil, livestream.NewError(livestream.ErrCodeValidation, fmt.Sprintf("invalid language tag %q", raw), err)
		}
		canonical := tag.String()
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out, nil
}

// NormalizeCreate validates create parameters before they reach the studio.
func NormalizeCreate(in livestream.CreateInput) (livestream.CreateInput, error) {
	langs, err := CanonicalLanguages(in.Languages)
	if err != nil {
		return livestream.CreateInput{}, err
	}
	if !in.Quality.Valid() {
		return livestream.CreateInput{}, livestream.ValidationError("unknown quality %q", in.Quality)
	}
	return livestream.CreateInput{
		AutoRecord: in.AutoRecord,
		Languages:  langs,
		Quality:    in.Quality,
	}, nil
}
