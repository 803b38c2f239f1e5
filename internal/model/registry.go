// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "sort"

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo contains display information about a supported model.
// This is used by the model selector endpoints and the terminal client.
type ModelInfo struct {
	// ID is the model identifier sent to the producer
	ID string `json:"id"`

	// Name is the human-readable display name
	Name string `json:"name"`

	// Modality is the chat type the model serves
	Modality Modality `json:"modality"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description"`
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// catalog is the registry of supported models per modality.
var catalog = map[Modality]map[string]ModelInfo{
	ModalityText: {
		"deepseek-r1": {
			ID:          "deepseek-r1",
			Name:        "DeepSeek R1",
			Description: "Reasoning model with visible chain of thought",
		},
		"llama3.2": {
			ID:          "llama3.2",
			Name:        "Llama 3.2",
			Description: "Small and fast Llama for everyday chat",
		},
		"llama3.1": {
			ID:          "llama3.1",
			Name:        "Llama 3.1",
			Description: "Extended context Llama 3",
		},
		"llama3": {
			ID:          "llama3",
			Name:        "Llama 3",
			Description: "Meta's versatile open-source model",
		},
		"mistral": {
			ID:          "mistral",
			Name:        "Mistral",
			Description: "Fast and efficient general purpose",
		},
		"openhermes2.5-mistral": {
			ID:          "openhermes2.5-mistral",
			Name:        "OpenHermes 2.5 Mistral",
			Description: "Instruction-tuned Mistral fine-tune",
		},
		"qwen2.5-coder": {
			ID:          "qwen2.5-coder",
			Name:        "Qwen 2.5 Coder",
			Description: "Optimized for code generation",
		},
		"gemma2": {
			ID:          "gemma2",
			Name:        "Gemma 2",
			Description: "Google's lightweight model",
		},
	},
	ModalityImage: {
		"anythingV3_fp16.safetensors": {
			ID:          "anythingV3_fp16.safetensors",
			Name:        "Anything V3",
			Description: "Anime-style Stable Diffusion checkpoint",
		},
		"realisticVisionV60B1_v51HyperVAE.safetensors": {
			ID:          "realisticVisionV60B1_v51HyperVAE.safetensors",
			Name:        "Realistic Vision 6.0",
			Description: "Photorealistic Stable Diffusion checkpoint",
		},
		"sdxl-turbo": {
			ID:          "sdxl-turbo",
			Name:        "SDXL Turbo",
			Description: "Single-step SDXL distillation",
		},
		"sdxl-anime": {
			ID:          "sdxl-anime",
			Name:        "SDXL Anime",
			Description: "SDXL tuned for illustration",
		},
	},
}

// defaults holds the model used when a chat is created without one.
var defaults = map[Modality]string{
	ModalityText:  "llama3.1",
	ModalityImage: "sdxl-turbo",
}

func init() {
	for m, models := range catalog {
		for id, info := range models {
			info.Modality = m
			models[id] = info
		}
	}
}

// =============================================================================
// LOOKUP FUNCTIONS
// =============================================================================

// ModelsFor returns the sorted model ids supported for a modality.
// Unknown modalities yield an empty slice.
func ModelsFor(m Modality) []string {
	models := catalog[m]
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsSupported reports whether id belongs to the catalog of modality m.
// The match is exact: "llama3.1:latest" is not "llama3.1".
func IsSupported(m Modality, id string) bool {
	_, ok := catalog[m][id]
	return ok
}

// Lookup returns display information for a supported model.
func Lookup(m Modality, id string) (ModelInfo, bool) {
	info, ok := catalog[m][id]
	return info, ok
}

// InfosFor returns display information for every model of a modality,
// sorted by id.
func InfosFor(m Modality) []ModelInfo {
	ids := ModelsFor(m)
	infos := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, catalog[m][id])
	}
	return infos
}

// DefaultModel returns the model a new chat of modality m uses when the
// caller does not pick one.
func DefaultModel(m Modality) string {
	return defaults[m]
}
