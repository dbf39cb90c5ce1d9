package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func GetUserID(c *fiber.Ctx) int64 {
	value, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(value, 10, 64)
	return userID
}

// parseBody decodes the JSON body into dst and validates it. On failure it
// returns the 400 response body.
func parseBody(c *fiber.Ctx, dst interface{}) (fiber.Map, bool) {
	if err := c.BodyParser(dst); err != nil {
		return fiber.Map{"error": "Invalid request body"}, false
	}

	if err := validate.Struct(dst); err != nil {
		return fiber.Map{
			"error":  "Validation failed",
			"fields": validationMessages(err),
		}, false
	}
	return nil, true
}

func validationMessages(err error) []string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return messages
}
