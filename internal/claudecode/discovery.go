package claudecode

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/relaywire/agentbridge/internal/adapter"
)

const (
	discoveryHeadLines  = 50
	discoveryTailLines  = 30
	sessionNameMaxChars = 100
	lastMessageMaxChars = 200
)

// encodeProjectDir converts an absolute project path into the directory
// name Claude Code uses under its session root.
func encodeProjectDir(path string) string {
	return strings.ReplaceAll(path, "/", "-")
}

// decodeProjectDir reverses encodeProjectDir. It rejects anything that
// doesn't look like a path-encoded absolute directory: traversal segments
// and doubled leading slashes are refused outright.
func decodeProjectDir(name string) (string, bool) {
	if !strings.HasPrefix(name, "-") {
		return "", false
	}
	decoded := strings.ReplaceAll(name, "-", "/")
	if strings.Contains(decoded, "..") || strings.HasPrefix(decoded, "//") {
		return "", false
	}
	return decoded, true
}

// discoverSessions enumerates every .jsonl session file under root and
// derives display metadata for each, read-only. Malformed lines are
// skipped one at a time; stat and read errors skip the offending
// candidate. Neither fails the whole scan.
func discoverSessions(root string) ([]adapter.DiscoveredSession, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []adapter.DiscoveredSession
	for _, projectDir := range entries {
		if !projectDir.IsDir() {
			continue
		}
		decodedPath, _ := decodeProjectDir(projectDir.Name())
		projectDirPath := filepath.Join(root, projectDir.Name())

		sessionFiles, err := os.ReadDir(projectDirPath)
		if err != nil {
			continue
		}

		for _, f := range sessionFiles {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			sessionID := strings.TrimSuffix(f.Name(), ".jsonl")
			fullPath := filepath.Join(projectDirPath, f.Name())

			ds, ok := deriveDiscoveredSession(fullPath, sessionID, decodedPath)
			if !ok {
				continue
			}
			out = append(out, ds)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModifiedAt > out[j].ModifiedAt
	})
	return out, nil
}

func deriveDiscoveredSession(path, sessionID, fallbackProjectPath string) (adapter.DiscoveredSession, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return adapter.DiscoveredSession{}, false
	}

	head, err := readLines(path, discoveryHeadLines)
	if err != nil {
		return adapter.DiscoveredSession{}, false
	}

	var projectPath, sessionName, modelID string
	for _, line := range head {
		rec, ok := parseRecord(line)
		if !ok {
			continue
		}
		if projectPath == "" && rec.Cwd != "" {
			projectPath = rec.Cwd
		}
		if sessionName == "" && rec.Type == "user" && rec.Message != nil {
			blocks := parseContentBlocks(rec.Message.Content)
			cleaned := stripSystemTags(textOf(blocks))
			if cleaned != "" {
				sessionName = truncate(cleaned, sessionNameMaxChars)
			}
		}
		if modelID == "" && rec.Message != nil && rec.Message.Model != "" {
			modelID = rec.Message.Model
		}
	}

	if projectPath == "" {
		if fallbackProjectPath != "" {
			if _, err := os.Stat(fallbackProjectPath); err == nil {
				projectPath = fallbackProjectPath
			}
		}
	}

	tail, err := readLastLines(path, discoveryTailLines)
	if err != nil {
		return adapter.DiscoveredSession{}, false
	}

	var lastMessage string
	for i := len(tail) - 1; i >= 0; i-- {
		rec, ok := parseRecord(tail[i])
		if !ok || rec.Type != "assistant" || rec.Message == nil {
			continue
		}
		blocks := parseContentBlocks(rec.Message.Content)
		text := textOf(blocks)
		if text != "" {
			lastMessage = truncate(text, lastMessageMaxChars)
			break
		}
	}

	return adapter.DiscoveredSession{
		ID:          sessionID,
		ProjectPath: projectPath,
		DisplayName: sessionName,
		LastMessage: lastMessage,
		ModelID:     modelID,
		ModifiedAt:  info.ModTime().UnixNano(),
	}, true
}

func parseRecord(line string) (record, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return record{}, false
	}
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return record{}, false
	}
	return rec, true
}

// truncate cuts s to at most max chars, appending "..." when it does.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// readLines returns up to n non-empty lines from the start of the file.
func readLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var out []string
	for scanner.Scan() && len(out) < n {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

// readLastLines returns up to the last n non-empty lines of the file. It
// reads the whole file, which is acceptable for the bounded JSONL logs this
// adapter targets.
func readLastLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	all := strings.Split(string(data), "\n")

	var nonEmpty []string
	for _, l := range all {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) > n {
		nonEmpty = nonEmpty[len(nonEmpty)-n:]
	}
	return nonEmpty, nil
}
