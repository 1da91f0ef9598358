package waitlist

import (
	"github.com/gin-gonic/gin"
)

// SetupWaitlistRoutes configures all waitlist-related routes.
// staffAuth guards the admin group; the router wires JWT plus role checks.
func SetupWaitlistRoutes(rg *gin.RouterGroup, controller *Controller, staffAuth ...gin.HandlerFunc) {
	// Customer routes, addressed by entry id
	waitlist := rg.Group("/waitlist")
	{
		waitlist.POST("", controller.JoinWaitlist)                     // JOIN waitlist
		waitlist.GET("/entries/:id", controller.GetEntry)              // GET status and position
		waitlist.POST("/entries/:id/confirm", controller.ConfirmOffer) // CONFIRM offer
		waitlist.POST("/entries/:id/cancel", controller.CancelEntry)   // LEAVE waitlist
	}

	// Staff routes
	adminWaitlist := rg.Group("/admin/waitlist")
	adminWaitlist.Use(staffAuth...)
	{
		adminWaitlist.GET("/waiting", controller.ListWaiting)               // Ranked waiting set for a date
		adminWaitlist.GET("/stats", controller.GetStats)                    // Stats for a date range
		adminWaitlist.POST("/slots", controller.ReportSlot)                 // Report a freed table
		adminWaitlist.POST("/entries/:id/cancel", controller.CancelEntry)   // Cancel on behalf of a customer
		adminWaitlist.GET("/entries/:id/attempts", controller.ListAttempts) // Delivery history
	}
}

// Route definitions for reference:
//
// POST   /api/v1/waitlist                              - Join the waitlist
// Request body: { "customer_name": "Ana", "email": "ana@example.com", "email_opt_in": true,
//                 "date": "2025-06-01", "time_slots": ["19:00", "19:30"], "party_size": 2 }
//
// POST   /api/v1/waitlist/entries/:id/confirm          - Accept an offer before its deadline
//
// POST   /api/v1/admin/waitlist/slots                  - Feed a freed table into matching
// Request body: { "date": "2025-06-01", "time": "19:00", "table_id": "T4", "capacity": 4,
//                 "reason": "CANCELLATION", "available_until": "2025-06-01T18:45:00Z" }
