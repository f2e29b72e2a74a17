package hub

import (
	"regexp"
	"sort"
	"strconv"
)

var multipartPattern = regexp.MustCompile(`^(.+)-(\d{1,5})-of-(\d{1,5})\.gguf$`)

// FileGroup is one logical model: a single file or all parts of a split GGUF
type FileGroup struct {
	Name  string
	Files []string
}

// Multipart reports whether the group spans several files
func (g FileGroup) Multipart() bool {
	return len(g.Files) > 1
}

// ParseMultipart splits "name-00001-of-00003.gguf" into its base name, part and part count
func ParseMultipart(filename string) (base string, part, total int, ok bool) {
	m := multipartPattern.FindStringSubmatch(filename)
	if m == nil {
		return "", 0, 0, false
	}
	part, _ = strconv.Atoi(m[2])
	total, _ = strconv.Atoi(m[3])
	return m[1], part, total, true
}

// GroupMultipart groups split GGUF parts under their base name. Other files
// form a group of one named after the file. Groups and their files are sorted.
func GroupMultipart(files []string) []FileGroup {
	byName := make(map[string][]string)
	for _, f := range files {
		name := f
		if base, _, _, ok := ParseMultipart(f); ok {
			name = base
		}
		byName[name] = append(byName[name], f)
	}

	groups := make([]FileGroup, 0, len(byName))
	for name, members := range byName {
		sort.Strings(members)
		groups = append(groups, FileGroup{Name: name, Files: members})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// FindGroup returns the group called name
func FindGroup(groups []FileGroup, name string) (FileGroup, bool) {
	for _, g := range groups {
		if g.Name == name {
			return g, true
		}
	}
	return FileGroup{}, false
}
