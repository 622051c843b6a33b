package tool

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/tidwall/gjson"
)

// Weather is the result of the getWeather tool.
type Weather struct {
	City      string `json:"city"`
	TempF     int    `json:"tempF"`
	Condition string `json:"condition"`
}

var knownWeather = map[string]Weather{
	"nyc":           {City: "NYC", TempF: 72, Condition: "sunny"},
	"new york":      {City: "New York", TempF: 72, Condition: "sunny"},
	"san francisco": {City: "San Francisco", TempF: 61, Condition: "foggy"},
	"london":        {City: "London", TempF: 55, Condition: "rainy"},
	"tokyo":         {City: "Tokyo", TempF: 68, Condition: "cloudy"},
}

var conditions = []string{"sunny", "cloudy", "rainy", "windy", "foggy"}

// WeatherTool creates the demo weather tool. It returns made-up but
// deterministic readings.
func WeatherTool() *Definition {
	return &Definition{
		Name:        "getWeather",
		Description: "Get the current weather for a city.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "The city to get the weather for",
				},
			},
			"required": []string{"city"},
		},
		Execute: executeWeather,
	}
}

func executeWeather(_ context.Context, _ Env, args gjson.Result) (Result, error) {
	city := strings.TrimSpace(args.Get("city").String())
	if city == "" {
		return Result{}, fmt.Errorf("city parameter is required")
	}

	w := LookupWeather(city)
	return Result{
		Title:  w.City,
		Output: fmt.Sprintf("%d°F and %s in %s", w.TempF, w.Condition, w.City),
		Data:   w,
	}, nil
}

// LookupWeather returns the reading for a city.
func LookupWeather(city string) Weather {
	if w, ok := knownWeather[strings.ToLower(city)]; ok {
		return w
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(city)))
	sum := h.Sum32()
	return Weather{
		City:      city,
		TempF:     40 + int(sum%55),
		Condition: conditions[int(sum/55)%len(conditions)],
	}
}
