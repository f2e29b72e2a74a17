package hub

import (
	"testing"
)

func TestParseRepoRef(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected *RepoRef
	}{
		{
			name:     "Plain repository id",
			input:    "TheBloke/Llama-2-7B-GGUF",
			expected: &RepoRef{RepoID: "TheBloke/Llama-2-7B-GGUF"},
		},
		{
			name:     "Repository URL",
			input:    "https://huggingface.co/TheBloke/Llama-2-7B-GGUF",
			expected: &RepoRef{RepoID: "TheBloke/Llama-2-7B-GGUF"},
		},
		{
			name:     "Short domain with trailing slash",
			input:    "https://hf.co/org/model/",
			expected: &RepoRef{RepoID: "org/model"},
		},
		{
			name:     "Blob URL",
			input:    "https://huggingface.co/org/model/blob/main/model.Q4_K_M.gguf",
			expected: &RepoRef{RepoID: "org/model", Revision: "main", Filename: "model.Q4_K_M.gguf"},
		},
		{
			name:     "Resolve URL with query and nested path",
			input:    "https://huggingface.co/org/model/resolve/main/sub%20dir/weights.bin?download=true",
			expected: &RepoRef{RepoID: "org/model", Revision: "main", Filename: "sub dir/weights.bin"},
		},
		{
			name:     "Tree URL",
			input:    "https://huggingface.co/org/model/tree/dev",
			expected: &RepoRef{RepoID: "org/model", Revision: "dev"},
		},
		{
			name:     "Other host",
			input:    "https://github.com/org/model",
			expected: nil,
		},
		{
			name:     "Missing name",
			input:    "org",
			expected: nil,
		},
		{
			name:     "Empty input",
			input:    "",
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseRepoRef(tc.input)
			if tc.expected == nil {
				if got != nil {
					t.Errorf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected %+v, got nil", tc.expected)
			}
			if *got != *tc.expected {
				t.Errorf("expected %+v, got %+v", tc.expected, got)
			}
		})
	}
}
