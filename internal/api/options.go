package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/smazurov/livecast/internal/api/models"
	"github.com/smazurov/livecast/internal/livestream"
)

// registerOptionsRoutes registers the preference options endpoint.
func (s *Server) registerOptionsRoutes() {
	options := buildOptions(s.options.Catalog)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-live-stream-options",
		Method:      http.MethodGet,
		Path:        "/api/live-stream/options",
		Summary:     "Get Live Stream Options",
		Description: "List the qualities, storage locations, post-processing steps and languages the preference panel may offer",
		Tags:        []string{"configuration"},
	}, func(_ context.Context, _ *struct{}) (*models.OptionsResponse, error) {
		return &models.OptionsResponse{Body: options}, nil
	})
}

func buildOptions(catalog Catalog) models.OptionsData {
	data := models.OptionsData{
		Qualities:        make([]string, 0, len(livestream.Qualities)),
		StorageLocations: make([]string, 0, len(livestream.StorageLocations)),
		PostProcessing:   make([]string, 0, len(livestream.PostProcessingSteps)),
		Languages:        make([]models.LanguageOption, 0, len(catalog.Languages)),
		Defaults: models.CreateDefaults{
			AutoRecord: catalog.Defaults.AutoRecord,
			Languages:  append([]string{}, catalog.Defaults.Languages...),
			Quality:    string(catalog.Defaults.Quality),
		},
	}
	for _, q := range livestream.Qualities {
		data.Qualities = append(data.Qualities, string(q))
	}
	for _, loc := range livestream.StorageLocations {
		data.StorageLocations = append(data.StorageLocations, string(loc))
	}
	for _, p := range livestream.PostProcessingSteps {
		data.PostProcessing = append(data.PostProcessing, string(p))
	}

	english := display.English.Tags()
	for _, raw := range catalog.Languages {
		tag, err := language.Parse(raw)
		if err != nil {
			continue
		}
		data.Languages = append(data.Languages, models.LanguageOption{
			Tag:        tag.String(),
			Name:       english.Name(tag),
			NativeName: display.Self.Name(tag),
		})
	}
	return data
}
