package bot

import (
	"errors"
	"fmt"
	"strings"

	"task-planner/internal/model"
	"task-planner/internal/service"
)

// parseTaskLine reads "title | date | HH:MM-HH:MM". A time range without a
// date is scheduled for today.
func parseTaskLine(line string, today model.Date) (service.CreateTaskInput, error) {
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	input := service.CreateTaskInput{Title: parts[0]}
	if input.Title == "" {
		return input, errors.New("title is required")
	}
	if len(parts) > 3 {
		return input, errors.New("too many fields")
	}

	var rangePart string
	switch len(parts) {
	case 2:
		if strings.Contains(parts[1], "-") && strings.Contains(parts[1], ":") {
			rangePart = parts[1]
		} else {
			date, err := parseDay(parts[1], today)
			if err != nil {
				return input, err
			}
			input.TaskDate = &date
		}
	case 3:
		date, err := parseDay(parts[1], today)
		if err != nil {
			return input, err
		}
		input.TaskDate = &date
		rangePart = parts[2]
	}

	if rangePart != "" {
		start, end, err := parseRange(rangePart)
		if err != nil {
			return input, err
		}
		if input.TaskDate == nil {
			input.TaskDate = &today
		}
		input.StartTime = &start
		input.EndTime = &end
	}
	return input, nil
}

func parseDay(value string, today model.Date) (model.Date, error) {
	switch strings.ToLower(value) {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDays(1), nil
	}
	date, err := model.ParseDate(value)
	if err != nil {
		return model.Date{}, fmt.Errorf("date must look like 2026-01-31, got %q", value)
	}
	return date, nil
}

func parseRange(value string) (model.TimeOfDay, model.TimeOfDay, error) {
	bounds := strings.Split(value, "-")
	if len(bounds) != 2 {
		return model.TimeOfDay{}, model.TimeOfDay{}, fmt.Errorf("time range must look like 09:00-10:30, got %q", value)
	}
	start, err := model.ParseTimeOfDay(bounds[0])
	if err != nil {
		return model.TimeOfDay{}, model.TimeOfDay{}, fmt.Errorf("bad start time %q", strings.TrimSpace(bounds[0]))
	}
	end, err := model.ParseTimeOfDay(bounds[1])
	if err != nil {
		return model.TimeOfDay{}, model.TimeOfDay{}, fmt.Errorf("bad end time %q", strings.TrimSpace(bounds[1]))
	}
	return start, end, nil
}
