package infra

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// indexPlaceholder in a string parameter is replaced by the call index
const indexPlaceholder = "{{index}}"

// CallTemplate is one entry of the calls file
type CallTemplate struct {
	Method string                 `yaml:"method"`
	Params map[string]interface{} `yaml:"params"`
	Files  []string               `yaml:"files"`
	Repeat int                    `yaml:"repeat"` // 0 and 1 both mean once
}

// WorkItem is a call ready to be enqueued
type WorkItem struct {
	Method      string
	Params      map[string]interface{}
	Attachments []Attachment
}

// LoadWorkload reads the calls file and expands it into work items
func LoadWorkload(filename string) ([]*WorkItem, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to load %s", filename)
	}

	var templates []CallTemplate
	if err = yaml.Unmarshal(raw, &templates); err != nil {
		return nil, errors.Wrapf(err, "fail to unmarshal %s", filename)
	}
	return GenerateWorkload(templates, filepath.Dir(filename))
}

// GenerateWorkload expands templates in order. Relative file paths are
// resolved against dir.
func GenerateWorkload(templates []CallTemplate, dir string) ([]*WorkItem, error) {
	var items []*WorkItem
	for i, t := range templates {
		if strings.TrimSpace(t.Method) == "" {
			return nil, errors.Errorf("call %d has no method", i)
		}

		attachments, err := loadAttachments(t.Files, dir)
		if err != nil {
			return nil, errors.Wrapf(err, "call %d (%s)", i, t.Method)
		}

		repeat := t.Repeat
		if repeat < 1 {
			repeat = 1
		}
		for r := 0; r < repeat; r++ {
			index := len(items)
			params, ok := normalize(t.Params, index).(map[string]interface{})
			if !ok {
				params = map[string]interface{}{}
			}
			items = append(items, &WorkItem{
				Method:      t.Method,
				Params:      params,
				Attachments: attachments,
			})
		}
	}
	return items, nil
}

func loadAttachments(files []string, dir string) ([]Attachment, error) {
	var attachments []Attachment
	for _, f := range files {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "fail to load attachment %s", f)
		}

		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		attachments = append(attachments, Attachment{
			Name:     filepath.Base(path),
			MimeType: mimeType,
			Content:  content,
		})
	}
	return attachments, nil
}

// normalize turns yaml maps into JSON friendly maps and expands the index placeholder
func normalize(v interface{}, index int) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item, index)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalize(item, index)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item, index)
		}
		return out
	case string:
		return strings.ReplaceAll(val, indexPlaceholder, strconv.Itoa(index))
	default:
		return val
	}
}
