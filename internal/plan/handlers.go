package plan

import (
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"backend-trailplan/internal/pace"
)

// RegisterRoutes wires the plan API. Every mutation responds with the
// recomputed itinerary so the table layer never derives anything itself.
// defaultActivity is the deployment-configured fallback for requests that
// name no activity.
func RegisterRoutes(r fiber.Router, svc *Service, defaultActivity string, authMiddleware fiber.Handler) {
	if defaultActivity == "" {
		defaultActivity = pace.DefaultActivity
	}

	r.Post("/calculate", authMiddleware, func(c *fiber.Ctx) error {
		data, err := gpxPayload(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		activity := c.Query("activity", defaultActivity)
		model := pace.ForActivity(activity)
		opts := DefaultOptions()

		queryFloat(c, "spacing_m", &opts.SpacingM)
		queryFloat(c, "smooth_win_m", &opts.SmoothWinM)
		queryFloat(c, "elev_deadband_m", &opts.ElevDeadbandM)
		queryFloat(c, "speed_flat_kmh", &model.SpeedFlatKmh)
		queryFloat(c, "speed_vert_mh", &model.SpeedVertMh)
		queryFloat(c, "downhill_factor", &model.DownhillFactor)

		if err := model.Validate(); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		_, it, err := svc.StartSession(c.Context(), data, opts, model, activity)
		if err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(it)
	})

	r.Get("/saved", authMiddleware, func(c *fiber.Ctx) error {
		plans, err := svc.ListPlans(c.Context(), userID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(plans)
	})

	r.Get("/saved/:planID", authMiddleware, func(c *fiber.Ctx) error {
		saved, err := svc.GetPlan(c.Context(), userID(c), c.Params("planID"))
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		return c.JSON(saved)
	})

	r.Delete("/saved/:planID", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.DeletePlan(c.Context(), userID(c), c.Params("planID")); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/:id/itinerary", func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			// Stale cache entries may outlive their session across a
			// restart; never serve one for a dead plan id.
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		if payload := svc.CachedItinerary(c.Context(), sess.ID); payload != nil {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(payload)
		}
		return c.JSON(sess.Itinerary())
	})

	r.Get("/:id/arrays", func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		return c.JSON(sess.ArraysView())
	})

	r.Get("/:id/export.csv", func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		c.Set(fiber.HeaderContentType, "text/csv")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="itinerary.csv"`)
		return sess.WriteCSV(c)
	})

	r.Post("/:id/waypoints", authMiddleware, func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		var body struct {
			Lat   float64 `json:"lat"`
			Lon   float64 `json:"lon"`
			Label string  `json:"label"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sess.AddWaypoint(body.Lat, body.Lon, body.Label)
		return c.Status(fiber.StatusCreated).JSON(svc.Publish(c.Context(), sess))
	})

	r.Delete("/:id/waypoints/:index", authMiddleware, func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		idx, err := strconv.Atoi(c.Params("index"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "index must be an integer")
		}
		if err := sess.RemoveWaypoint(idx); err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return c.JSON(svc.Publish(c.Context(), sess))
	})

	r.Put("/:id/legs/:a/:b", authMiddleware, func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		a, errA := strconv.Atoi(c.Params("a"))
		b, errB := strconv.Atoi(c.Params("b"))
		if errA != nil || errB != nil {
			return fiber.NewError(fiber.StatusBadRequest, "leg endpoints must be integers")
		}
		var patch OverridePatch
		if err := c.BodyParser(&patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		sess.SetLegOverride(LegKey{A: a, B: b}, patch)
		return c.JSON(svc.Publish(c.Context(), sess))
	})

	r.Post("/:id/save", authMiddleware, func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&body); err != nil || body.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}
		saved, err := svc.SavePlan(c.Context(), userID(c), body.Name, sess.BuildDocument())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(saved)
	})

	r.Post("/:id/load", authMiddleware, func(c *fiber.Ctx) error {
		sess, ok := svc.Session(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "plan not found")
		}
		var body struct {
			PlanID   string    `json:"plan_id"`
			Document *Document `json:"document"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		var doc Document
		switch {
		case body.Document != nil:
			doc = *body.Document
		case body.PlanID != "":
			saved, err := svc.GetPlan(c.Context(), userID(c), body.PlanID)
			if err != nil {
				return fiber.NewError(fiber.StatusNotFound, "saved plan not found")
			}
			doc = saved.Document
		default:
			return fiber.NewError(fiber.StatusBadRequest, "plan_id or document required")
		}

		warnings := sess.ApplyDocument(doc)
		return c.JSON(fiber.Map{
			"warnings":  warnings,
			"itinerary": svc.Publish(c.Context(), sess),
		})
	})
}

func gpxPayload(c *fiber.Ctx) ([]byte, error) {
	if file, err := c.FormFile("gpx"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	if len(c.Body()) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "gpx file required")
	}
	return c.Body(), nil
}

func queryFloat(c *fiber.Ctx, key string, dst *float64) {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			*dst = v
		}
	}
}

func userID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}
