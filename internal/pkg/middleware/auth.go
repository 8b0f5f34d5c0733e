package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// KeyAdminUser is the Locals key holding the authenticated admin name
const KeyAdminUser = "ADMIN_USER"

// RequireAdmin protects the admin API with basic auth against a bcrypt password hash.
// Without a configured hash every request is rejected.
func RequireAdmin(user, passwordHash string) fiber.Handler {
	if passwordHash == "" {
		log.Warn("[Auth] ADMIN_PASSWORD_HASH is empty, admin API is disabled")
	}
	return basicauth.New(basicauth.Config{
		Realm: "pledgeservice admin",
		Authorizer: func(u, p string) bool {
			return CheckAdminCredentials(user, passwordHash, u, p)
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `basic realm="pledgeservice admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
		},
		ContextUsername: KeyAdminUser,
	})
}

// CheckAdminCredentials compares the supplied basic auth pair against the configured admin.
func CheckAdminCredentials(user, passwordHash, gotUser, gotPassword string) bool {
	if passwordHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(gotUser)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(gotPassword)) == nil
	return userOK && passOK
}
