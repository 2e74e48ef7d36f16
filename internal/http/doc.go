// Package http exposes the daily session API over net/http.
//
// Callers are identified by the X-User-ID header set by the upstream gateway.
// Administrator operations additionally require `Authorization: Bearer <key>`
// matching the configured argon2id hash.
//
// The router exposes the following endpoints:
//   - GET /schedules, GET /schedules/{id}: schedule configuration exchanging the
//     `scheduleDTO` payload defined in schedule_handler.go.
//   - PUT /schedules/{id}, POST /schedules/{id}/deactivate: administrator
//     configuration. PUT creates (201) or replaces (200) the schedule.
//   - GET /schedules/{id}/today: materializes and returns today's session, or
//     reports an off day or inactive schedule with a null session.
//   - GET /schedules/{id}/sessions/{date}: session lookup by YYYY-MM-DD date.
//   - GET /schedules/{id}/upcoming?days=N: future occurrences (1 to 60 days).
//   - GET /sessions/{id}, POST /sessions/{id}/transitions: status reads and
//     administrator transitions. Body: {"action":"start|complete|reschedule|cancel"}.
//   - POST /sessions/{id}/join, POST /sessions/{id}/leave: attendance for the caller.
//     Leave responses carry credited seconds, qualification and progression.
//   - GET /sessions/{id}/attendance: administrator attendance listing.
//   - GET /users/{id}/engagement: streak and forest for the caller or any user
//     for administrators. POST /users/{id}/engagement/rebuild recomputes it.
//   - GET /healthz, GET /metrics: unauthenticated probes.
//
// Errors use {"error_code","message","errors"} with error_code taken from
// application.ErrorKind: not_found 404, invalid_transition, session_closed,
// stale_leave and conflict 409, validation 422, unauthorized 403. A missing
// identity or wrong administrator key is 401.
package http
