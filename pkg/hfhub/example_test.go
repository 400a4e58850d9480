// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfhub_test

import (
	"context"
	"fmt"
	"os"

	"hfhub/pkg/hfhub"
)

func ExampleDownloadFile() {
	repo := hfhub.RepoSpec{
		Kind: hfhub.RepoModel,
		ID:   "hf-internal-testing/tiny-random-gpt2",
	}

	settings := hfhub.Settings{
		CacheDir: "./example_cache",
	}

	path, err := hfhub.DownloadFile(context.Background(), repo, "README.md", settings)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Downloaded to: %s\n", path)

	os.RemoveAll("./example_cache")
}

func ExampleDownloadFile_localMirror() {
	repo := hfhub.RepoSpec{Kind: hfhub.RepoModel, ID: "facebook/opt-1.3b"}

	settings := hfhub.Settings{
		LocalDir:    "./Models/opt-1.3b",
		TokenOption: hfhub.TokenExplicit,
		TokenValue:  os.Getenv("HF_TOKEN"),
	}
	_ = settings
	_ = repo
}

func ExampleDownloadSnapshot_withFilters() {
	// Fetch only GGUF quantizations, skipping dotfiles, through at most
	// 8 concurrent transfers.
	repo := hfhub.RepoSpec{Kind: hfhub.RepoModel, ID: "TheBloke/Mistral-7B-Instruct-v0.2-GGUF"}
	settings := hfhub.Settings{
		CacheDir:       "./Models",
		AllowPatterns:  []string{"*q4_k_m*", "*q5_k_m*"},
		IgnorePatterns: []string{".*"},
		MaxWorkers:     8,
	}

	progress := func(e hfhub.ProgressEvent) {
		switch e.Event {
		case "plan_item":
			fmt.Printf("will fetch: %s (%d bytes)\n", e.Path, e.Total)
		case "file_done":
			fmt.Printf("done: %s\n", e.Path)
		}
	}
	settings.ProgressFunc = progress

	// A real MetadataProvider implementation is required to resolve the
	// repository's sibling list; see internal/hubapi for the one this
	// module wires up against the Hub's JSON API.
	var provider hfhub.MetadataProvider
	_ = provider
	_ = repo
	_ = settings
}
