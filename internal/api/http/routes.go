package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/skycastml/pvnowcast/internal/nowcast"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *nowcast.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/sites", func(c *fiber.Ctx) error {
		source := c.Query("source")
		if source == "" {
			return fiber.NewError(fiber.StatusBadRequest, "source query parameter is required")
		}
		ids := service.SiteIDs(source)
		if ids == nil {
			return fiber.NewError(fiber.StatusNotFound, "unknown data source")
		}
		return c.JSON(fiber.Map{
			"source": source,
			"sites":  ids,
		})
	})

	v1.Get("/pv/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		readings, err := service.History(c.Context(), req.Site, req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query pv history")
		}
		if len(readings) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no readings for requested range")
		}
		return c.JSON(fiber.Map{
			"site":     req.Site,
			"from":     req.From,
			"to":       req.To,
			"readings": readings,
		})
	})

	v1.Post("/predict", func(c *fiber.Ctx) error {
		var req predictRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		anchor, err := parseTime(req.Anchor)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		pred, reason, err := service.Predict(c.Context(), req.Site, anchor)
		if err != nil {
			if errors.Is(err, nowcast.ErrNoModel) {
				return fiber.NewError(fiber.StatusServiceUnavailable, "no model loaded")
			}
			if errors.Is(err, nowcast.ErrNotExtractable) {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
					"error":   true,
					"message": "sample not extractable",
					"reason":  reason.String(),
				})
			}
			return fiber.NewError(fiber.StatusInternalServerError, "prediction failed")
		}

		return c.JSON(fiber.Map{
			"site":       req.Site,
			"anchor":     anchor,
			"prediction": pred,
		})
	})
}

// predictRequest is the POST /predict body.
type predictRequest struct {
	Site   int64  `json:"site" validate:"gte=0"`
	Anchor string `json:"anchor" validate:"required"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Site int64     `validate:"gte=0"`
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	siteStr := c.Query("site")
	if siteStr == "" {
		return errors.New("site query parameter is required")
	}
	site, err := strconv.ParseInt(siteStr, 10, 64)
	if err != nil {
		return errors.New("invalid site id")
	}
	h.Site = site

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	if h.From, err = parseTime(fromStr); err != nil {
		return err
	}
	if h.To, err = parseTime(toStr); err != nil {
		return err
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
