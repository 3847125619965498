/*
Package cache holds decoded images in memory, keyed by the address they were
fetched from.

The cache has a fixed number of slots. When it is full the entry that has been
read the fewest times since it was inserted makes way for the new one. Counts
are cumulative and never decay, so an image that was popular early on stays
protected after it goes quiet.

Images handed out by Get belong to the cache and must be treated as read-only.
*/
package cache
