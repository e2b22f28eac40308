// Package sandbox decides how a plugin's rendering surface is isolated.
//
// Every surface is classified when it attaches. Plugins that declare the
// nodeIntegration trust level get script privileges and no bridge; all
// others, including surfaces whose origin cannot be resolved, run isolated
// with the capability bridge injected. The decision is recomputed from the
// current registry on every attach, so a reload takes effect immediately.
package sandbox
