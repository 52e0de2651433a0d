// Package httputil holds the JSON response and request helpers shared by the
// HTTP handlers, plus small body and logging middleware.
//
//	var req signInRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	httputil.WriteSuccess(w, snapshot)
//
// Errors are written as {"error": "...", "code": "..."}.
package httputil
