// Package derived builds rule definitions from JSON or YAML documents.
//
// A document holds one spec or a list of specs:
//
//	- id: site-average
//	  name: site average temperature
//	  selectors:
//	    service: sensor
//	    resource: temperature
//	  min_providers: 2
//	  action:
//	    type: aggregate
//	    function: avg
//	    source: {service: sensor, resource: temperature}
//	    target: {provider: site, service: stats, resource: average_temperature}
//
// Selectors use the criterion selector format. Actions are created by
// registered ActionFactory implementations; "set" and "aggregate" are
// built in.
package derived
