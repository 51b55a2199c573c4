package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/r2hgw/rtp2httpd/internal/playlist"
)

// parsedFile is the raw result of walking the three config sections,
// before CLI-shadow resolution and viper default-merging happen in Load.
type parsedFile struct {
	global   map[string]string
	binds    []BindAddr
	services []Service
}

// section names, matched case-sensitively as spec.md shows them.
const (
	sectionGlobal   = "global"
	sectionBind     = "bind"
	sectionServices = "services"
)

// parseFile reads rtp2httpd's three-section config grammar: `[global]`
// key=value lines, `[bind]` "node service" lines, and `[services]`
// entries that are either one-per-line `name url` pairs or an inline
// M3U playlist starting with #EXTM3U.
func parseFile(r io.Reader) (*parsedFile, error) {
	pf := &parsedFile{global: map[string]string{}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	section := ""
	var servicesBlock []string
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") && section != sectionServices {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if section == sectionServices {
				if err := finishServices(pf, servicesBlock); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				servicesBlock = nil
			}
			section = strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
			continue
		}

		switch section {
		case sectionGlobal:
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				// Malformed config line: log-and-skip per spec.md §7.
				continue
			}
			pf.global[strings.TrimSpace(key)] = strings.TrimSpace(value)

		case sectionBind:
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			pf.binds = append(pf.binds, BindAddr{Node: fields[0], Service: fields[1]})

		case sectionServices:
			servicesBlock = append(servicesBlock, raw)

		default:
			// Content before any section header: ignore.
		}
	}
	if section == sectionServices {
		if err := finishServices(pf, servicesBlock); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pf, nil
}

// finishServices decides whether the accumulated [services] block is an
// inline M3U playlist or a plain "name url" list, and populates pf
// accordingly.
func finishServices(pf *parsedFile, lines []string) error {
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "#EXTM3U") {
			entries, err := playlist.Parse(strings.NewReader(strings.Join(lines, "\n")))
			if err != nil {
				return fmt.Errorf("inline m3u: %w", err)
			}
			for _, e := range entries {
				pf.services = append(pf.services, Service{Name: e.Name, URL: e.URL})
			}
			return nil
		}
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		name, url, ok := strings.Cut(l, " ")
		if !ok {
			continue
		}
		pf.services = append(pf.services, Service{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return nil
}
